package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canairio/station-agent/internal/config"
	"canairio/station-agent/internal/model"
	"canairio/station-agent/internal/portal"
	"canairio/station-agent/internal/provisioning"
	"canairio/station-agent/internal/radio"
	"canairio/station-agent/internal/sensor"
	"canairio/station-agent/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type influxRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *influxRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func newInfluxServer(t *testing.T) (*httptest.Server, *influxRecorder) {
	t.Helper()
	rec := &influxRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.lines = append(rec.lines, string(body))
		rec.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rec
}

type fixture struct {
	station *Station
	radio   *radio.Sim
	portal  *portal.Server
	storage *store.DirStorage
	start   time.Time
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	storage, err := store.OpenDir(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		radio:   radio.NewSim(nil, net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x00}, nil, 0),
		portal:  portal.New("127.0.0.1:0", false, testLogger),
		storage: storage,
		start:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.station, err = NewStation(context.Background(), cfg, Deps{
		Storage: storage,
		Radio:   f.radio,
		Portal:  f.portal,
		Sensor:  sensor.NewSim(1, 0, nil),
	}, testLogger, f.start)
	require.NoError(t, err)
	t.Cleanup(f.station.close)
	return f
}

func (f *fixture) step(t *testing.T, offset time.Duration) error {
	t.Helper()
	return f.station.Step(context.Background(), f.start.Add(offset))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TickInterval = time.Second
	cfg.PortalTimeout = 10 * time.Second
	cfg.ConnectTimeout = time.Second
	cfg.PublishRetryDelay = time.Millisecond
	cfg.PublishTimeout = time.Second
	cfg.MetricsPort = 0
	return cfg
}

func TestProvisionThenPublish(t *testing.T) {
	influx, rec := newInfluxServer(t)
	u, err := url.Parse(influx.URL)
	require.NoError(t, err)

	f := newFixture(t, testConfig())
	assert.Equal(t, "AA:BB:CC:DD:EE:02", f.station.Identity().DeviceID)

	require.NoError(t, f.step(t, time.Second))
	ssid, up := f.radio.AccessPoint()
	require.True(t, up)
	assert.Equal(t, provisioning.FirstRunSSID, ssid)
	require.NotEmpty(t, f.portal.Addr())

	resp, err := http.PostForm("http://"+f.portal.Addr()+"/save", url.Values{
		provisioning.FieldServer:     {u.Hostname()},
		provisioning.FieldPort:       {u.Port()},
		provisioning.FieldDatabase:   {"airdb"},
		provisioning.FieldGeohash:    {"d2g6f"},
		provisioning.FieldSampleTime: {"1"},
		provisioning.FieldSSID:       {"home"},
		provisioning.FieldPassword:   {"secret"},
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, f.step(t, 2*time.Second))
	assert.Equal(t, "airdb", f.station.Device().DatabaseName)
	assert.Equal(t, "D2GEE02", f.station.Identity().StationName)
	_, up = f.radio.AccessPoint()
	assert.False(t, up, "access point stops once connected")
	assert.Equal(t, 0, rec.count(), "cadence not due yet")

	reloaded, err := store.NewConfigStore(f.storage, testLogger).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.station.Device(), reloaded)

	require.NoError(t, f.step(t, 3*time.Second))
	require.Equal(t, 1, rec.count())
	rec.mu.Lock()
	line := rec.lines[0]
	rec.mu.Unlock()
	assert.True(t, strings.HasPrefix(line, "fixed_stations_01,mac=AA:BB:CC:DD:EE:02,name=D2GEE02 "), line)

	status := f.station.Status()
	assert.Equal(t, "connected", status.Provisioning)
	assert.Equal(t, "connected", status.Link)
	assert.NotEmpty(t, status.LastPublish)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.station.metrics.PublishTotal.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.station.metrics.ConfigSaves.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.station.metrics.LinkConnected))
}

func TestRestartAfterCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.RestartCeiling = 5 * time.Second
	f := newFixture(t, cfg)

	for i := 1; i <= 5; i++ {
		require.NoError(t, f.step(t, time.Duration(i)*time.Second), "tick %d", i)
	}
	err := f.step(t, 6*time.Second)
	assert.ErrorIs(t, err, ErrRestartRequired)
	assert.ErrorIs(t, f.step(t, 7*time.Second), ErrRestartRequired, "restart request is sticky")
}

func TestSavedCredentialsReconnectAfterLinkLoss(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.radio.SetCredentials(model.Credentials{SSID: "home"}))

	require.NoError(t, f.step(t, time.Second))
	assert.Equal(t, "connected", f.station.Status().Link)

	f.radio.Drop()
	require.NoError(t, f.step(t, 2*time.Second))
	assert.Equal(t, "disconnected", f.station.Status().Link)
	assert.Equal(t, "connected", f.station.Status().Provisioning, "provisioning sees the monitor state of the previous tick")

	require.NoError(t, f.step(t, 3*time.Second))
	assert.Equal(t, "disconnected", f.station.Status().Provisioning)

	require.NoError(t, f.step(t, 4*time.Second))
	assert.Equal(t, "connected", f.station.Status().Provisioning)
	assert.Equal(t, "connected", f.station.Status().Link)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.station.metrics.ProvisionEvents.WithLabelValues("link_lost")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.station.metrics.ProvisionEvents.WithLabelValues("connected")))
}

func TestHandler(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.step(t, time.Second))

	rec := httptest.NewRecorder()
	f.station.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "portal_active", status.Provisioning)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", status.DeviceID)

	rec = httptest.NewRecorder()
	f.station.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `canairio_provisioning_events_total{event="portal_started"} 1`)
}

func TestNewStationValidatesDeps(t *testing.T) {
	_, err := NewStation(context.Background(), testConfig(), Deps{}, testLogger, time.Now())
	assert.Error(t, err)
}
