package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"canairio/station-agent/internal/model"
)

// ConfigFile is the name of the persisted configuration record.
const ConfigFile = "/config.json"

var (
	// ErrConfigNotFound reports that no record was persisted yet.
	ErrConfigNotFound = errors.New("config file not found")
	// ErrStorageUnavailable reports that the storage could not be read at all.
	ErrStorageUnavailable = errors.New("config storage unavailable")
	// ErrConfigParse reports a malformed persisted record.
	ErrConfigParse = errors.New("config file malformed")
)

// PersistError is returned when the record could not be written.
// The in-memory configuration stays authoritative.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return "persist config: " + e.Err.Error()
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// ConfigStore loads, validates and persists the device configuration.
type ConfigStore struct {
	storage Storage
	logger  *slog.Logger
	dirty   bool
}

// NewConfigStore returns a store backed by storage. Until the first
// successful Load or Save the record is considered unsaved.
func NewConfigStore(storage Storage, logger *slog.Logger) *ConfigStore {
	return &ConfigStore{storage: storage, logger: logger, dirty: true}
}

// Dirty reports whether the last loaded or saved record is not reflected in storage.
func (s *ConfigStore) Dirty() bool {
	return s.dirty
}

// Load reads the persisted record. The returned Config is always usable:
// on any failure it holds the compiled-in defaults and the error says why.
func (s *ConfigStore) Load(ctx context.Context) (model.Config, error) {
	cfg := model.DefaultConfig()

	data, err := s.storage.ReadFile(ctx, ConfigFile)
	if err != nil {
		s.dirty = true
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("config file not found, using defaults")
			return cfg, fmt.Errorf("%w: %w", ErrConfigNotFound, err)
		}
		s.logger.Warn("config storage unavailable, using defaults", "error", err)
		return cfg, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	rec, ignored, err := decodeRecord(data)
	if err != nil {
		s.dirty = true
		s.logger.Warn("failed to read config file, using default configuration", "error", err)
		return cfg, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	if len(ignored) > 0 {
		s.logger.Warn("ignoring malformed config keys, using defaults for them", "keys", ignored)
	}

	cfg = Validate(rec.overlay(cfg))
	s.dirty = false
	s.logger.Debug("config loaded", "server", cfg.ServerHost, "database", cfg.DatabaseName)
	return cfg, nil
}

// Save validates cfg and overwrites the persisted record.
func (s *ConfigStore) Save(ctx context.Context, cfg model.Config) error {
	cfg = Validate(cfg)

	data, err := json.Marshal(newRecord(cfg))
	if err != nil {
		s.dirty = true
		return &PersistError{Err: fmt.Errorf("encode config: %w", err)}
	}

	if err := s.storage.WriteFile(ctx, ConfigFile, data); err != nil {
		s.dirty = true
		s.logger.Error("failed to write config file", "error", err)
		return &PersistError{Err: err}
	}

	s.dirty = false
	s.logger.Info("config saved", "bytes", len(data))
	return nil
}

// Validate truncates every string to its capacity and repairs out-of-range
// values. A non-positive sample interval is kept; Config.TelemetryEnabled
// reports it as disabled.
func Validate(cfg model.Config) model.Config {
	cfg.ServerHost = clean(strings.TrimSpace(cfg.ServerHost), model.ServerHostCap)
	cfg.DatabaseName = clean(strings.TrimSpace(cfg.DatabaseName), model.DatabaseNameCap)
	cfg.DeviceName = clean(cfg.DeviceName, model.DeviceNameCap)
	cfg.LocationTag = clean(strings.TrimSpace(cfg.LocationTag), model.LocationTagCap)

	cfg.ServerPort = clean(strings.TrimSpace(cfg.ServerPort), model.ServerPortCap)
	if port, err := strconv.Atoi(cfg.ServerPort); err != nil || port < 1 || port > 65535 {
		cfg.ServerPort = model.DefaultServerPort
	}

	if cfg.DatabaseName == "" {
		cfg.DatabaseName = model.DefaultDatabaseName
	}

	cfg.SampleIntervalSeconds = model.TruncateInt(cfg.SampleIntervalSeconds, model.SampleTimeCap)

	switch cfg.SensorType {
	case model.SensorAuto, model.SensorPMS, model.SensorSPS:
	default:
		cfg.SensorType = model.SensorAuto
	}

	cfg.Latitude = coordinate(cfg.Latitude)
	cfg.Longitude = coordinate(cfg.Longitude)
	return cfg
}

// clean drops invalid UTF-8 and truncates v to max bytes.
func clean(v string, max int) string {
	return model.Truncate(strings.ToValidUTF8(v, ""), max)
}

func coordinate(v string) string {
	v = clean(strings.TrimSpace(v), model.CoordinateCap)
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return model.DefaultCoordinate
	}
	return v
}

// record is the persisted JSON layout. Every value is written as a string;
// numbers are accepted on read.
type record struct {
	Hostname    *flexString `json:"hostname,omitempty"`
	Port        *flexString `json:"port,omitempty"`
	InfluxDB    *flexString `json:"influxdb,omitempty"`
	DeviceName  *flexString `json:"devicename,omitempty"`
	Geohash     *flexString `json:"geohash,omitempty"`
	CountryCode *flexString `json:"country_code,omitempty"`
	STime       *flexString `json:"stime,omitempty"`
	SType       *flexString `json:"stype,omitempty"`
	Lat         *flexString `json:"lat,omitempty"`
	Lon         *flexString `json:"lon,omitempty"`
}

func newRecord(cfg model.Config) record {
	str := func(v string) *flexString {
		f := flexString(v)
		return &f
	}
	return record{
		Hostname:   str(cfg.ServerHost),
		Port:       str(cfg.ServerPort),
		InfluxDB:   str(cfg.DatabaseName),
		DeviceName: str(cfg.DeviceName),
		Geohash:    str(cfg.LocationTag),
		STime:      str(strconv.Itoa(cfg.SampleIntervalSeconds)),
		SType:      str(strconv.Itoa(cfg.SensorType)),
		Lat:        str(cfg.Latitude),
		Lon:        str(cfg.Longitude),
	}
}

// overlay copies every present key onto cfg; absent or invalid keys keep cfg's value.
func (r record) overlay(cfg model.Config) model.Config {
	set := func(dst *string, v *flexString) {
		if v != nil {
			*dst = string(*v)
		}
	}
	setInt := func(dst *int, v *flexString) {
		if v == nil {
			return
		}
		if n, err := strconv.Atoi(strings.TrimSpace(string(*v))); err == nil {
			*dst = n
		}
	}

	set(&cfg.ServerHost, r.Hostname)
	set(&cfg.ServerPort, r.Port)
	set(&cfg.DatabaseName, r.InfluxDB)
	set(&cfg.DeviceName, r.DeviceName)
	set(&cfg.LocationTag, r.CountryCode)
	set(&cfg.LocationTag, r.Geohash)
	setInt(&cfg.SampleIntervalSeconds, r.STime)
	setInt(&cfg.SensorType, r.SType)
	set(&cfg.Latitude, r.Lat)
	set(&cfg.Longitude, r.Lon)
	return cfg
}

// decodeRecord parses the persisted object key by key. A key whose value is
// neither a string nor a number is left unset and reported in ignored; only a
// record that is not a JSON object fails as a whole.
func decodeRecord(data []byte) (record, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return record{}, nil, err
	}
	if raw == nil {
		return record{}, nil, errors.New("config record is null")
	}

	var (
		rec     record
		ignored []string
	)
	keys := []struct {
		name string
		dst  **flexString
	}{
		{"hostname", &rec.Hostname},
		{"port", &rec.Port},
		{"influxdb", &rec.InfluxDB},
		{"devicename", &rec.DeviceName},
		{"geohash", &rec.Geohash},
		{"country_code", &rec.CountryCode},
		{"stime", &rec.STime},
		{"stype", &rec.SType},
		{"lat", &rec.Lat},
		{"lon", &rec.Lon},
	}
	for _, k := range keys {
		v, ok := raw[k.name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		var f flexString
		if err := json.Unmarshal(v, &f); err != nil {
			ignored = append(ignored, k.name)
			continue
		}
		*k.dst = &f
	}
	return rec, ignored, nil
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}
