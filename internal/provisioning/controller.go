// Package provisioning drives the captive portal used to configure the
// station: it connects with saved credentials when it can, falls back to an
// access-point portal, and stops that portal once it is no longer needed.
package provisioning

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"canairio/station-agent/internal/model"
	"canairio/station-agent/internal/store"
)

// Access point identities.
const (
	FirstRunSSID     = "CanAirIO_ConfigMe!"
	PortalSSID       = "CanAirIO Config"
	PortalPassphrase = "CanAirIO"
)

// Radio is the Wi-Fi driver as seen by the controller.
type Radio interface {
	HasCredentials() bool
	SetCredentials(model.Credentials) error
	// Connect associates with the saved network, returning when the link is
	// up or ctx is done.
	Connect(ctx context.Context) error
	StartAccessPoint(ssid, passphrase string) error
	StopAccessPoint() error
}

// LinkState is the read-only view of the connectivity monitor.
type LinkState interface {
	IsConnected() bool
}

// PortalSettings describe the access point a portal session is served on.
type PortalSettings struct {
	SSID       string
	Passphrase string
}

// Submission is one form post received by the portal.
type Submission struct {
	Values map[string]string
}

// Portal is the captive portal web surface. Process must not block.
type Portal interface {
	Start(settings PortalSettings, fields []Field) error
	Process() (Submission, bool)
	// Update replaces the fields shown by a running portal.
	Update(fields []Field)
	Stop() error
}

// ConfigSaver commits the configuration record.
type ConfigSaver interface {
	Save(ctx context.Context, cfg model.Config) error
}

// State of the provisioning state machine.
type State int

const (
	Disconnected State = iota
	PortalActive
	Connected
)

func (s State) String() string {
	switch s {
	case PortalActive:
		return "portal_active"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectResult is the outcome of a bounded connect attempt.
type ConnectResult int

const (
	ConnectOK ConnectResult = iota
	ConnectTimedOut
	PortalRequired
)

func (r ConnectResult) String() string {
	switch r {
	case ConnectOK:
		return "connected"
	case ConnectTimedOut:
		return "timed_out"
	default:
		return "portal_required"
	}
}

// EventKind tells the control loop what a Poll did.
type EventKind int

const (
	EventNone EventKind = iota
	EventConnected
	EventPortalStarted
	EventConfigSaved
	EventPortalExpired
	EventLinkLost
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventPortalStarted:
		return "portal_started"
	case EventConfigSaved:
		return "config_saved"
	case EventPortalExpired:
		return "portal_expired"
	case EventLinkLost:
		return "link_lost"
	default:
		return "none"
	}
}

// Event is returned by Poll and consumed synchronously by the control loop.
// Config is set for EventConnected and EventConfigSaved; Err carries a
// persistence or portal failure that did not stop the state machine.
type Event struct {
	Kind   EventKind
	Config model.Config
	Err    error
}

// PortalSession is the state of a running portal.
type PortalSession struct {
	SSID      string
	StartedAt time.Time
	// Ticks counts every poll of the running portal, submissions included,
	// so a portal never outlives Limit.
	Ticks     int
	Limit     int
}

// Settings are the controller's timing tunables.
type Settings struct {
	TickInterval   time.Duration
	PortalTimeout  time.Duration
	ConnectTimeout time.Duration
}

// TickLimit is the number of keep-alive ticks a portal may run:
// ceil(PortalTimeout / TickInterval). The portal stops on the tick that exceeds it.
func (s Settings) TickLimit() int {
	tick := s.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	return int((s.PortalTimeout + tick - 1) / tick)
}

// Controller is the provisioning state machine. It is polled from the
// control loop only and keeps no copy of the configuration record.
type Controller struct {
	radio    Radio
	portal   Portal
	link     LinkState
	saver    ConfigSaver
	settings Settings
	logger   *slog.Logger

	fields  fieldSet
	state   State
	session *PortalSession
}

// NewController builds the live parameter set from cfg.
func NewController(radio Radio, portal Portal, link LinkState, saver ConfigSaver, settings Settings, cfg model.Config, logger *slog.Logger) *Controller {
	return &Controller{
		radio:    radio,
		portal:   portal,
		link:     link,
		saver:    saver,
		settings: settings,
		logger:   logger,
		fields:   fieldSet(BuildFields(cfg)),
		state:    Disconnected,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Session returns a copy of the running portal session.
func (c *Controller) Session() (PortalSession, bool) {
	if c.session == nil {
		return PortalSession{}, false
	}
	return *c.session, true
}

// Fields returns a copy of the live parameter set.
func (c *Controller) Fields() []Field {
	return c.fields.clone()
}

// Poll advances the state machine by one tick. It blocks for at most the
// connect timeout. cfg is the control loop's record; it is updated in place
// when the operator saves the form.
func (c *Controller) Poll(ctx context.Context, now time.Time, cfg *model.Config) Event {
	switch c.state {
	case Disconnected:
		return c.pollDisconnected(ctx, now, cfg)
	case PortalActive:
		return c.pollPortal(ctx, now, cfg)
	case Connected:
		if !c.link.IsConnected() {
			c.logger.Warn("wifi link lost")
			c.state = Disconnected
			return Event{Kind: EventLinkLost}
		}
	}
	return Event{Kind: EventNone}
}

// Connect makes one connect attempt bounded by budget.
func (c *Controller) Connect(ctx context.Context, budget time.Duration) ConnectResult {
	if !c.radio.HasCredentials() {
		return PortalRequired
	}

	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := c.radio.Connect(cctx); err != nil {
		c.logger.Warn("wifi connect failed", "timeout", budget.String(), "error", err)
		return ConnectTimedOut
	}
	return ConnectOK
}

func (c *Controller) pollDisconnected(ctx context.Context, now time.Time, cfg *model.Config) Event {
	result := c.Connect(ctx, c.settings.ConnectTimeout)
	if result == ConnectOK {
		c.state = Connected
		c.logger.Info("wifi connected")
		err := c.commit(ctx, cfg)
		return Event{Kind: EventConnected, Config: *cfg, Err: err}
	}

	settings := PortalSettings{SSID: PortalSSID, Passphrase: PortalPassphrase}
	if result == PortalRequired {
		settings = PortalSettings{SSID: FirstRunSSID}
	}
	if err := c.startPortal(now, settings); err != nil {
		return Event{Kind: EventNone, Err: err}
	}
	return Event{Kind: EventPortalStarted}
}

func (c *Controller) pollPortal(ctx context.Context, now time.Time, cfg *model.Config) Event {
	if c.link.IsConnected() {
		c.logger.Info("wifi connected while portal was running")
		c.stopPortal("connected")
		c.state = Connected
		err := c.commit(ctx, cfg)
		return Event{Kind: EventConnected, Config: *cfg, Err: err}
	}

	c.session.Ticks++
	if c.session.Ticks > c.session.Limit {
		c.logger.Info("portal keep-alive expired, stopping config portal",
			"ticks", c.session.Ticks, "running_for", now.Sub(c.session.StartedAt).String())
		c.stopPortal("expired")
		c.state = Disconnected
		return Event{Kind: EventPortalExpired}
	}

	if sub, ok := c.portal.Process(); ok {
		return c.handleSubmission(ctx, sub, cfg)
	}
	return Event{Kind: EventNone}
}

// handleSubmission reads the form into the live set, clamps, persists and
// logs, in that order, then tries new credentials if any were given.
func (c *Controller) handleSubmission(ctx context.Context, sub Submission, cfg *model.Config) Event {
	c.logger.Info("saving new config")

	c.fields.read(sub.Values)
	err := c.commit(ctx, cfg)
	ev := Event{Kind: EventConfigSaved, Config: *cfg, Err: err}

	creds := c.fields.credentials()
	c.fields.refresh(*cfg)
	c.portal.Update(c.fields.clone())
	if creds.SSID == "" {
		return ev
	}

	if err := c.radio.SetCredentials(creds); err != nil {
		c.logger.Error("failed to store wifi credentials", "ssid", creds.SSID, "error", err)
		ev.Err = errors.Join(ev.Err, err)
		return ev
	}
	if c.Connect(ctx, c.settings.ConnectTimeout) == ConnectOK {
		c.logger.Info("wifi connected with new credentials", "ssid", creds.SSID)
		c.stopPortal("connected")
		c.state = Connected
	}
	return ev
}

// commit applies the live set to cfg and persists it. cfg is updated even
// when persisting fails.
func (c *Controller) commit(ctx context.Context, cfg *model.Config) error {
	next := c.fields.apply(*cfg)
	err := c.saver.Save(ctx, next)
	*cfg = store.Validate(next)
	logConfig(c.logger, *cfg)
	if err != nil {
		c.logger.Error("config not persisted, keeping in-memory values", "error", err)
	}
	return err
}

func (c *Controller) startPortal(now time.Time, settings PortalSettings) error {
	if err := c.radio.StartAccessPoint(settings.SSID, settings.Passphrase); err != nil {
		c.logger.Error("failed to start access point", "ssid", settings.SSID, "error", err)
		return err
	}
	if err := c.portal.Start(settings, c.fields.clone()); err != nil {
		c.logger.Error("failed to start config portal", "ssid", settings.SSID, "error", err)
		_ = c.radio.StopAccessPoint()
		return err
	}

	c.session = &PortalSession{SSID: settings.SSID, StartedAt: now, Limit: c.settings.TickLimit()}
	c.state = PortalActive
	c.logger.Info("config portal is running", "ssid", settings.SSID, "timeout", c.settings.PortalTimeout.String())
	return nil
}

func (c *Controller) stopPortal(reason string) {
	if err := c.portal.Stop(); err != nil {
		c.logger.Warn("failed to stop config portal", "error", err)
	}
	if err := c.radio.StopAccessPoint(); err != nil {
		c.logger.Warn("failed to stop access point", "error", err)
	}
	c.logger.Info("config portal stopped", "reason", reason)
	c.session = nil
}

func logConfig(logger *slog.Logger, cfg model.Config) {
	logger.Info("device config",
		"device", cfg.DeviceName,
		"server", cfg.ServerHost,
		"port", cfg.ServerPort,
		"database", cfg.DatabaseName,
		"geohash", cfg.LocationTag,
		"stime", cfg.SampleIntervalSeconds,
		"stype", cfg.SensorType,
	)
}
