package model

import (
	"strconv"
	"unicode/utf8"
)

// Field capacities of the persisted configuration record, in bytes.
const (
	ServerHostCap   = 39
	ServerPortCap   = 5
	DatabaseNameCap = 31
	DeviceNameCap   = 31
	LocationTagCap  = 31
	SampleTimeCap   = 7
	SensorTypeCap   = 3
	CoordinateCap   = 15
)

// Compiled-in defaults used when storage is absent, corrupt or a key is missing.
const (
	DefaultServerHost     = "influxdb.canair.io"
	DefaultServerPort     = "8086"
	DefaultDatabaseName   = "canairio"
	DefaultSampleInterval = 10
	DefaultSensorType     = SensorAuto
	DefaultCoordinate     = "0.0"
)

// Sensor family selectors offered by the portal.
const (
	SensorAuto = 0
	SensorPMS  = 1
	SensorSPS  = 2
)

// Config is the persisted device configuration record.
type Config struct {
	ServerHost            string
	ServerPort            string
	DatabaseName          string
	DeviceName            string
	LocationTag           string
	SampleIntervalSeconds int
	SensorType            int
	Latitude              string
	Longitude             string
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() Config {
	return Config{
		ServerHost:            DefaultServerHost,
		ServerPort:            DefaultServerPort,
		DatabaseName:          DefaultDatabaseName,
		SampleIntervalSeconds: DefaultSampleInterval,
		SensorType:            DefaultSensorType,
		Latitude:              DefaultCoordinate,
		Longitude:             DefaultCoordinate,
	}
}

// TelemetryEnabled reports whether the record carries enough to publish samples.
func (c Config) TelemetryEnabled() bool {
	return c.SampleIntervalSeconds > 0 && c.ServerHost != "" && c.DatabaseName != ""
}

// HasLocation reports whether coordinates other than the defaults were configured.
func (c Config) HasLocation() bool {
	return (c.Latitude != "" && c.Latitude != DefaultCoordinate) ||
		(c.Longitude != "" && c.Longitude != DefaultCoordinate)
}

// ServerURL is the base URL of the time-series endpoint.
func (c Config) ServerURL() string {
	return "http://" + c.ServerHost + ":" + c.ServerPort
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// TruncateInt keeps an integer field within its digit capacity.
func TruncateInt(v, digits int) int {
	s := Truncate(strconv.Itoa(v), digits)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// LinkStatus is reported by the radio for the station interface.
type LinkStatus int

const (
	LinkDown LinkStatus = iota
	LinkAssociating
	LinkUp
)

func (s LinkStatus) String() string {
	switch s {
	case LinkUp:
		return "up"
	case LinkAssociating:
		return "associating"
	default:
		return "down"
	}
}

// Credentials are the Wi-Fi station credentials handed to the radio.
type Credentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// NetInfo describes the station link once associated.
type NetInfo struct {
	IP      string
	SSID    string
	Gateway string
	MAC     string
	RSSI    int
}

// Sample is one snapshot of every sensor attached to the station.
type Sample struct {
	PM1            float64 `json:"pm1"`
	PM25           float64 `json:"pm25"`
	PM10           float64 `json:"pm10"`
	CO2            float64 `json:"co2"`
	CO2Humidity    float64 `json:"co2hum"`
	CO2Temperature float64 `json:"co2tmp"`
	Humidity       float64 `json:"hum"`
	Temperature    float64 `json:"tmp"`
	Pressure       float64 `json:"prs"`
	Gas            float64 `json:"gas"`
	Altitude       float64 `json:"alt"`
}

// EffectiveHumidity prefers the main sensor and falls back to the CO2 sensor.
func (s Sample) EffectiveHumidity() float64 {
	if s.Humidity == 0 {
		return s.CO2Humidity
	}
	return s.Humidity
}

// EffectiveTemperature prefers the main sensor and falls back to the CO2 sensor.
func (s Sample) EffectiveTemperature() float64 {
	if s.Temperature == 0 {
		return s.CO2Temperature
	}
	return s.Temperature
}
