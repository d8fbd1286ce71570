// Package app runs the station: a single control loop that owns the device
// configuration and polls provisioning, connectivity and telemetry in turn.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"canairio/station-agent/internal/config"
	"canairio/station-agent/internal/connectivity"
	"canairio/station-agent/internal/identity"
	"canairio/station-agent/internal/metrics"
	"canairio/station-agent/internal/model"
	"canairio/station-agent/internal/provisioning"
	"canairio/station-agent/internal/publisher"
	"canairio/station-agent/internal/store"
	"canairio/station-agent/internal/telemetry"
)

// ErrRestartRequired is returned by Run when the link stayed down past the
// restart ceiling.
var ErrRestartRequired = connectivity.ErrRestartRequired

// Radio is everything the station needs from the Wi-Fi driver.
type Radio interface {
	provisioning.Radio
	connectivity.LinkReporter
	HardwareAddr() net.HardwareAddr
}

type netInfoer interface {
	Info() model.NetInfo
}

// Deps are the collaborators of a Station. A nil Dial uses the InfluxDB
// publisher; a nil Registry gets a fresh one.
type Deps struct {
	Storage   store.Storage
	Radio     Radio
	Portal    provisioning.Portal
	Sensor    telemetry.Sensor
	Indicator telemetry.Indicator
	Dial      telemetry.DialFunc
	Registry  *prometheus.Registry
}

// Station is the shared context object of the control loop.
type Station struct {
	cfg      config.Config
	logger   *slog.Logger
	radio    Radio
	portal   provisioning.Portal
	configs  *store.ConfigStore
	ctrl     *provisioning.Controller
	monitor  *connectivity.Monitor
	sched    *telemetry.Scheduler
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	device model.Config
	id     telemetry.Identity

	statusMu sync.RWMutex
	status   Status
}

// Status is the snapshot served on /healthz.
type Status struct {
	StationName  string `json:"station_name"`
	DeviceID     string `json:"device_id"`
	Provisioning string `json:"provisioning"`
	Link         string `json:"link"`
	LastPublish  string `json:"last_publish,omitempty"`
}

// NewStation loads the device configuration and builds the components.
// now is the start of every timer.
func NewStation(ctx context.Context, cfg config.Config, deps Deps, logger *slog.Logger, now time.Time) (*Station, error) {
	if deps.Radio == nil || deps.Portal == nil || deps.Storage == nil || deps.Sensor == nil {
		return nil, errors.New("station needs storage, radio, portal and sensor")
	}

	deviceID, err := identity.DeviceID(deps.Radio.HardwareAddr(), byte(cfg.MACOffset))
	if err != nil {
		return nil, fmt.Errorf("derive device id: %w", err)
	}

	configs := store.NewConfigStore(deps.Storage, logger)
	device, err := configs.Load(ctx)
	if err != nil {
		logger.Warn("using default device config", "error", err)
	}

	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Dial == nil {
		deps.Dial = publisher.NewDialer(publisher.DialOptions{
			Timeout:    cfg.PublishTimeout,
			MQTTBroker: cfg.MQTTBroker,
			ClientID:   "canairio-" + strings.ReplaceAll(deviceID, ":", ""),
		}, logger)
	}

	s := &Station{
		cfg:      cfg,
		logger:   logger,
		radio:    deps.Radio,
		portal:   deps.Portal,
		configs:  configs,
		metrics:  metrics.New(deps.Registry),
		registry: deps.Registry,
		device:   device,
		id: telemetry.Identity{
			DeviceID:    deviceID,
			StationName: identity.StationName(device, deviceID, cfg.Flavor),
			Revision:    cfg.Revision,
			Flavor:      cfg.Flavor,
		},
	}

	s.monitor = connectivity.NewMonitor(deps.Radio, cfg.RestartCeiling, now, logger)
	s.ctrl = provisioning.NewController(deps.Radio, deps.Portal, s.monitor, meteredSaver{configs, s.metrics},
		provisioning.Settings{
			TickInterval:   cfg.TickInterval,
			PortalTimeout:  cfg.PortalTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
		}, device, logger)
	s.sched = telemetry.NewScheduler(deps.Sensor, deps.Dial, deps.Indicator, telemetry.Options{
		MaxRetries:     cfg.PublishRetries,
		RetryDelay:     cfg.PublishRetryDelay,
		PublishTimeout: cfg.PublishTimeout,
		GateFactor:     cfg.TelemetryGateFactor,
	}, now, logger)

	s.updateStatus(nil)
	logger.Info("station setup done",
		"device_id", deviceID,
		"station", s.id.StationName,
		"stime", device.SampleIntervalSeconds,
		"portal_timeout", cfg.PortalTimeout.String(),
		"connect_timeout", cfg.ConnectTimeout.String(),
		"restart_ceiling", cfg.RestartCeiling.String(),
	)
	return s, nil
}

// Device returns the live configuration record.
func (s *Station) Device() model.Config {
	return s.device
}

// Identity returns the telemetry identity.
func (s *Station) Identity() telemetry.Identity {
	return s.id
}

// Run ticks the control loop until ctx is cancelled or a restart is required.
func (s *Station) Run(ctx context.Context) error {
	defer s.close()

	httpErrCh := make(chan error, 1)
	var httpServer *http.Server
	if s.cfg.MetricsPort > 0 {
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", s.cfg.MetricsPort),
			Handler:           s.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.logger.Info("metrics server started", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErrCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("metrics server shutdown", "error", err)
			}
			s.logger.Info("metrics server stopped")
		}()
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	if err := s.Step(ctx, time.Now()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-httpErrCh:
			return err
		case now := <-ticker.C:
			if err := s.Step(ctx, now); err != nil {
				return err
			}
		}
	}
}

// Step runs one tick: provisioning, then the connectivity monitor, then
// telemetry when the link is up.
func (s *Station) Step(ctx context.Context, now time.Time) error {
	ev := s.ctrl.Poll(ctx, now, &s.device)
	s.handleEvent(ev)

	if err := s.monitor.Poll(now); err != nil {
		s.metrics.Restarts.Inc()
		s.updateStatus(nil)
		return err
	}
	connected := s.monitor.IsConnected()
	s.metrics.SetLinkConnected(connected)

	var published *time.Time
	if connected {
		res := s.sched.Poll(ctx, now, s.device, s.id, connected)
		switch res.Outcome {
		case telemetry.Published:
			published = &now
			s.metrics.ObservePublish(res.Outcome.String(), res.Attempts)
		case telemetry.Dropped, telemetry.DialFailed:
			s.metrics.ObservePublish(res.Outcome.String(), res.Attempts)
		}
	}
	s.updateStatus(published)
	return nil
}

func (s *Station) handleEvent(ev provisioning.Event) {
	if ev.Kind == provisioning.EventNone {
		return
	}
	s.metrics.ObserveEvent(ev.Kind.String())

	switch ev.Kind {
	case provisioning.EventConnected:
		s.logNetInfo()
		s.refreshIdentity()
	case provisioning.EventConfigSaved:
		s.sched.Reconfigure()
		s.refreshIdentity()
		if s.ctrl.State() == provisioning.Connected {
			s.logNetInfo()
		}
	}
}

func (s *Station) refreshIdentity() {
	name := identity.StationName(s.device, s.id.DeviceID, s.cfg.Flavor)
	if name != s.id.StationName {
		s.logger.Info("station name changed", "from", s.id.StationName, "to", name)
		s.id.StationName = name
	}
}

func (s *Station) logNetInfo() {
	ni, ok := s.radio.(netInfoer)
	if !ok {
		return
	}
	info := ni.Info()
	s.logger.Info("network info",
		"ip", info.IP,
		"ssid", info.SSID,
		"gateway", info.Gateway,
		"mac", info.MAC,
		"rssi", info.RSSI,
	)
}

func (s *Station) updateStatus(published *time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.StationName = s.id.StationName
	s.status.DeviceID = s.id.DeviceID
	if s.ctrl != nil {
		s.status.Provisioning = s.ctrl.State().String()
	}
	if s.monitor != nil {
		s.status.Link = s.monitor.State().String()
	}
	if published != nil {
		s.status.LastPublish = published.UTC().Format(time.RFC3339)
	}
}

// Status returns the last snapshot taken by the control loop.
func (s *Station) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Handler serves /metrics and /healthz.
func (s *Station) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", s.handleHealthz)
	return r
}

func (s *Station) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

func (s *Station) close() {
	s.sched.Close()
	if err := s.portal.Stop(); err != nil {
		s.logger.Warn("failed to stop config portal", "error", err)
	}
	if err := s.radio.StopAccessPoint(); err != nil {
		s.logger.Warn("failed to stop access point", "error", err)
	}
}

// meteredSaver counts configuration commits.
type meteredSaver struct {
	configs *store.ConfigStore
	metrics *metrics.Metrics
}

func (m meteredSaver) Save(ctx context.Context, cfg model.Config) error {
	err := m.configs.Save(ctx, cfg)
	m.metrics.ObserveConfigSave(err)
	return err
}
