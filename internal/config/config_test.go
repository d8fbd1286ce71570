package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 180*time.Second, cfg.PortalTimeout)
	assert.Equal(t, 2, cfg.TelemetryGateFactor)
	assert.Equal(t, 5, cfg.PublishRetries)
}

func TestLoadEnvironment(t *testing.T) {
	cfg, err := load(map[string]string{
		"CANAIRIO_TICK_INTERVAL":   "10s",
		"CANAIRIO_PORTAL_TIMEOUT":  "1m",
		"CANAIRIO_PUBLISH_RETRIES": "3",
		"CANAIRIO_STORAGE":         "sqlite",
		"CANAIRIO_PORTAL_MDNS":     "false",
		"CANAIRIO_SIM_NETWORKS":    "home:secret,office:hunter2",
		"CANAIRIO_FLAVOR":          "TTGO_T7",
		"TICK_INTERVAL":            "99s",
	})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.TickInterval)
	assert.Equal(t, time.Minute, cfg.PortalTimeout)
	assert.Equal(t, 3, cfg.PublishRetries)
	assert.Equal(t, StorageSQLite, cfg.Storage)
	assert.False(t, cfg.PortalMDNS)
	assert.Equal(t, map[string]string{"home": "secret", "office": "hunter2"}, cfg.SimNetworks)
	assert.Equal(t, "TTGO_T7", cfg.Flavor)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tick_interval: 2s
publish_retry_delay: 250ms
radio: host
interface: eth0
metrics_port: 9100
log_level: debug
`), 0o600))

	cfg, err := load(map[string]string{
		FileEnv:                 path,
		"CANAIRIO_METRICS_PORT": "9200",
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.PublishRetryDelay)
	assert.Equal(t, RadioHost, cfg.Radio)
	assert.Equal(t, "eth0", cfg.Interface)
	assert.Equal(t, 9200, cfg.MetricsPort, "environment wins over the file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, defaultConnectTimeout, cfg.ConnectTimeout, "unset keys keep defaults")
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		desc    string
		environ map[string]string
	}{
		{desc: "bad duration", environ: map[string]string{"CANAIRIO_TICK_INTERVAL": "soon"}},
		{desc: "zero tick", environ: map[string]string{"CANAIRIO_TICK_INTERVAL": "0s"}},
		{desc: "unknown storage", environ: map[string]string{"CANAIRIO_STORAGE": "nvs"}},
		{desc: "unknown radio", environ: map[string]string{"CANAIRIO_RADIO": "esp32"}},
		{desc: "mac offset overflow", environ: map[string]string{"CANAIRIO_MAC_OFFSET": "300"}},
		{desc: "missing file", environ: map[string]string{FileEnv: "/nonexistent/station.yaml"}},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := load(tc.environ)
			assert.Error(t, err)
		})
	}
}
