package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v7"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "CANAIRIO_"
	// FileEnv names the optional YAML file applied before the environment.
	FileEnv = envPrefix + "CONFIG_FILE"
)

// Storage backends.
const (
	StorageDir    = "dir"
	StorageSQLite = "sqlite"
)

// Radio implementations.
const (
	RadioHost = "host"
	RadioSim  = "sim"
)

// Config lists the tunable parameters for the station agent. The device
// configuration record edited on the portal is not part of it.
type Config struct {
	TickInterval        time.Duration `env:"TICK_INTERVAL" yaml:"tick_interval"`
	PortalTimeout       time.Duration `env:"PORTAL_TIMEOUT" yaml:"portal_timeout"`
	ConnectTimeout      time.Duration `env:"CONNECT_TIMEOUT" yaml:"connect_timeout"`
	RestartCeiling      time.Duration `env:"RESTART_CEILING" yaml:"restart_ceiling"`
	PublishRetries      int           `env:"PUBLISH_RETRIES" yaml:"publish_retries"`
	PublishRetryDelay   time.Duration `env:"PUBLISH_RETRY_DELAY" yaml:"publish_retry_delay"`
	PublishTimeout      time.Duration `env:"PUBLISH_TIMEOUT" yaml:"publish_timeout"`
	TelemetryGateFactor int           `env:"TELEMETRY_GATE_FACTOR" yaml:"telemetry_gate_factor"`
	MACOffset           int           `env:"MAC_OFFSET" yaml:"mac_offset"`
	Flavor              string        `env:"FLAVOR" yaml:"flavor"`
	Revision            string        `env:"REVISION" yaml:"revision"`

	Storage      string `env:"STORAGE" yaml:"storage"`
	DataDir      string `env:"DATA_DIR" yaml:"data_dir"`
	DatabasePath string `env:"DATABASE_PATH" yaml:"database_path"`

	Radio        string            `env:"RADIO" yaml:"radio"`
	Interface    string            `env:"INTERFACE" yaml:"interface"`
	SimNetworks  map[string]string `env:"SIM_NETWORKS" yaml:"sim_networks"`
	SimHardware  string            `env:"SIM_HARDWARE" yaml:"sim_hardware"`
	SensorWarmup time.Duration     `env:"SENSOR_WARMUP" yaml:"sensor_warmup"`

	PortalAddr  string `env:"PORTAL_ADDR" yaml:"portal_addr"`
	PortalMDNS  bool   `env:"PORTAL_MDNS" yaml:"portal_mdns"`
	MetricsPort int    `env:"METRICS_PORT" yaml:"metrics_port"`
	MQTTBroker  string `env:"MQTT_BROKER" yaml:"mqtt_broker"`
	LEDPath     string `env:"LED_PATH" yaml:"led_path"`
	LogLevel    string `env:"LOG_LEVEL" yaml:"log_level"`
}

const (
	defaultTickInterval      = time.Second
	defaultPortalTimeout     = 180 * time.Second
	defaultConnectTimeout    = 30 * time.Second
	defaultRestartCeiling    = 300 * time.Second
	defaultPublishRetries    = 5
	defaultPublishRetryDelay = 500 * time.Millisecond
	defaultPublishTimeout    = 5 * time.Second
	defaultGateFactor        = 2
	defaultMACOffset         = 2
	defaultDataDir           = "data"
	defaultDatabasePath      = "data/canairio.db"
	defaultInterface         = "wlan0"
	defaultSimHardware       = "24:0a:c4:00:00:00"
	defaultSensorWarmup      = 10 * time.Second
	defaultPortalAddr        = ":8080"
	defaultMetricsPort       = 9090
	defaultLogLevel          = "info"
)

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		TickInterval:        defaultTickInterval,
		PortalTimeout:       defaultPortalTimeout,
		ConnectTimeout:      defaultConnectTimeout,
		RestartCeiling:      defaultRestartCeiling,
		PublishRetries:      defaultPublishRetries,
		PublishRetryDelay:   defaultPublishRetryDelay,
		PublishTimeout:      defaultPublishTimeout,
		TelemetryGateFactor: defaultGateFactor,
		MACOffset:           defaultMACOffset,
		Storage:             StorageDir,
		DataDir:             defaultDataDir,
		DatabasePath:        defaultDatabasePath,
		Radio:               RadioSim,
		Interface:           defaultInterface,
		SimHardware:         defaultSimHardware,
		SensorWarmup:        defaultSensorWarmup,
		PortalAddr:          defaultPortalAddr,
		PortalMDNS:          true,
		MetricsPort:         defaultMetricsPort,
		LogLevel:            defaultLogLevel,
	}
}

// Load derives configuration from compiled defaults, the optional YAML file
// named by CANAIRIO_CONFIG_FILE and CANAIRIO_* environment variables, in that
// order.
func Load() (Config, error) {
	return load(envMap(os.Environ()))
}

func load(environ map[string]string) (Config, error) {
	cfg := Default()

	if path := environ[FileEnv]; path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the agent cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid %sTICK_INTERVAL %s", envPrefix, c.TickInterval))
	}
	if c.PortalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid %sPORTAL_TIMEOUT %s", envPrefix, c.PortalTimeout))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid %sCONNECT_TIMEOUT %s", envPrefix, c.ConnectTimeout))
	}
	if c.PublishRetries < 0 {
		errs = append(errs, fmt.Errorf("invalid %sPUBLISH_RETRIES %d", envPrefix, c.PublishRetries))
	}
	if c.MACOffset < 0 || c.MACOffset > 255 {
		errs = append(errs, fmt.Errorf("invalid %sMAC_OFFSET %d", envPrefix, c.MACOffset))
	}
	if c.Storage != StorageDir && c.Storage != StorageSQLite {
		errs = append(errs, fmt.Errorf("invalid %sSTORAGE %q", envPrefix, c.Storage))
	}
	if c.Radio != RadioHost && c.Radio != RadioSim {
		errs = append(errs, fmt.Errorf("invalid %sRADIO %q", envPrefix, c.Radio))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid %sMETRICS_PORT %d", envPrefix, c.MetricsPort))
	}
	return errors.Join(errs...)
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
