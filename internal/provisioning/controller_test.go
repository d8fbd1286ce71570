package provisioning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canairio/station-agent/internal/model"
	"canairio/station-agent/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRadio struct {
	creds       *model.Credentials
	connectErr  error
	acceptSSID  string
	connects    int
	apSSID      string
	apPass      string
	apRunning   bool
	onConnected func()
}

func (r *fakeRadio) HasCredentials() bool { return r.creds != nil }

func (r *fakeRadio) SetCredentials(c model.Credentials) error {
	r.creds = &c
	return nil
}

func (r *fakeRadio) Connect(ctx context.Context) error {
	r.connects++
	if r.acceptSSID != "" && r.creds != nil && r.creds.SSID == r.acceptSSID {
		if r.onConnected != nil {
			r.onConnected()
		}
		return nil
	}
	if r.connectErr != nil {
		return r.connectErr
	}
	if r.onConnected != nil {
		r.onConnected()
	}
	return nil
}

func (r *fakeRadio) StartAccessPoint(ssid, pass string) error {
	r.apSSID, r.apPass, r.apRunning = ssid, pass, true
	return nil
}

func (r *fakeRadio) StopAccessPoint() error {
	r.apRunning = false
	return nil
}

type fakePortal struct {
	running  bool
	starts   int
	settings PortalSettings
	fields   []Field
	pending  []Submission
}

func (p *fakePortal) Start(s PortalSettings, fields []Field) error {
	p.running, p.settings, p.fields = true, s, fields
	p.starts++
	return nil
}

func (p *fakePortal) Process() (Submission, bool) {
	if len(p.pending) == 0 {
		return Submission{}, false
	}
	sub := p.pending[0]
	p.pending = p.pending[1:]
	return sub, true
}

func (p *fakePortal) Update(fields []Field) {
	p.fields = fields
}

func (p *fakePortal) Stop() error {
	p.running = false
	return nil
}

type fakeLink struct{ up bool }

func (l *fakeLink) IsConnected() bool { return l.up }

type fakeSaver struct {
	saved []model.Config
	err   error
}

func (s *fakeSaver) Save(_ context.Context, cfg model.Config) error {
	s.saved = append(s.saved, cfg)
	return s.err
}

type harness struct {
	radio  *fakeRadio
	portal *fakePortal
	link   *fakeLink
	saver  *fakeSaver
	ctrl   *Controller
	cfg    model.Config
	now    time.Time
}

func newHarness(radio *fakeRadio, settings Settings) *harness {
	h := &harness{
		radio:  radio,
		portal: &fakePortal{},
		link:   &fakeLink{},
		saver:  &fakeSaver{},
		cfg:    model.DefaultConfig(),
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	h.ctrl = NewController(h.radio, h.portal, h.link, h.saver, settings, h.cfg, testLogger)
	return h
}

func (h *harness) poll(t *testing.T) Event {
	t.Helper()
	h.now = h.now.Add(h.ctrl.settings.TickInterval)
	return h.ctrl.Poll(context.Background(), h.now, &h.cfg)
}

var defaultSettings = Settings{TickInterval: 10 * time.Second, PortalTimeout: 60 * time.Second, ConnectTimeout: time.Second}

func TestTickLimit(t *testing.T) {
	cases := []struct {
		desc     string
		settings Settings
		expected int
	}{
		{desc: "exact division", settings: Settings{TickInterval: 10 * time.Second, PortalTimeout: 60 * time.Second}, expected: 6},
		{desc: "rounds up", settings: Settings{TickInterval: 10 * time.Second, PortalTimeout: 65 * time.Second}, expected: 7},
		{desc: "one second ticks", settings: Settings{TickInterval: time.Second, PortalTimeout: 180 * time.Second}, expected: 180},
		{desc: "zero tick defaults to a second", settings: Settings{PortalTimeout: 5 * time.Second}, expected: 5},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.settings.TickLimit())
		})
	}
}

func TestFirstRunStartsOpenPortal(t *testing.T) {
	h := newHarness(&fakeRadio{}, defaultSettings)

	ev := h.poll(t)
	assert.Equal(t, EventPortalStarted, ev.Kind)
	assert.Equal(t, PortalActive, h.ctrl.State())
	assert.Equal(t, FirstRunSSID, h.radio.apSSID)
	assert.Empty(t, h.radio.apPass)
	assert.Zero(t, h.radio.connects, "no credentials means no connect attempt")
	assert.True(t, h.portal.running)
	assert.Len(t, h.portal.fields, len(BuildFields(h.cfg)))
}

func TestSavedCredentialsFailureStartsPortal(t *testing.T) {
	h := newHarness(&fakeRadio{creds: &model.Credentials{SSID: "home"}, connectErr: context.DeadlineExceeded}, defaultSettings)

	ev := h.poll(t)
	assert.Equal(t, EventPortalStarted, ev.Kind)
	assert.Equal(t, PortalSSID, h.radio.apSSID)
	assert.Equal(t, PortalPassphrase, h.radio.apPass)
	assert.Equal(t, 1, h.radio.connects)
}

func TestAutoconnectSavesConfig(t *testing.T) {
	h := newHarness(&fakeRadio{creds: &model.Credentials{SSID: "home"}}, defaultSettings)

	ev := h.poll(t)
	require.Equal(t, EventConnected, ev.Kind)
	assert.NoError(t, ev.Err)
	assert.Equal(t, Connected, h.ctrl.State())
	require.Len(t, h.saver.saved, 1)
	assert.Equal(t, h.cfg, h.saver.saved[0])
	assert.False(t, h.portal.running)
}

func TestPortalKeepAliveExpiry(t *testing.T) {
	h := newHarness(&fakeRadio{creds: &model.Credentials{SSID: "home"}, connectErr: errors.New("no ap")}, defaultSettings)

	require.Equal(t, EventPortalStarted, h.poll(t).Kind)

	for i := 1; i <= 6; i++ {
		ev := h.poll(t)
		require.Equal(t, EventNone, ev.Kind, "tick %d", i)
		require.Equal(t, PortalActive, h.ctrl.State(), "tick %d", i)
		session, ok := h.ctrl.Session()
		require.True(t, ok)
		assert.Equal(t, i, session.Ticks)
	}

	ev := h.poll(t)
	assert.Equal(t, EventPortalExpired, ev.Kind)
	assert.Equal(t, Disconnected, h.ctrl.State())
	assert.False(t, h.portal.running)
	assert.False(t, h.radio.apRunning)
	_, ok := h.ctrl.Session()
	assert.False(t, ok)

	ev = h.poll(t)
	assert.Equal(t, EventPortalStarted, ev.Kind, "disconnected state retries and reopens the portal")
	assert.Equal(t, 2, h.portal.starts)
}

func TestPortalExpiresDespiteSubmissions(t *testing.T) {
	h := newHarness(&fakeRadio{}, defaultSettings)
	require.Equal(t, EventPortalStarted, h.poll(t).Kind)

	submit := func() {
		h.portal.pending = append(h.portal.pending, Submission{Values: map[string]string{FieldDeviceName: "balcony"}})
	}

	for i := 1; i <= 6; i++ {
		submit()
		ev := h.poll(t)
		require.Equal(t, EventConfigSaved, ev.Kind, "tick %d", i)
		session, ok := h.ctrl.Session()
		require.True(t, ok)
		assert.Equal(t, i, session.Ticks)
	}

	submit()
	ev := h.poll(t)
	assert.Equal(t, EventPortalExpired, ev.Kind)
	assert.Equal(t, Disconnected, h.ctrl.State())
	assert.Len(t, h.saver.saved, 6)
}

func TestPortalSubmission(t *testing.T) {
	h := newHarness(&fakeRadio{}, defaultSettings)
	require.Equal(t, EventPortalStarted, h.poll(t).Kind)
	h.poll(t)
	h.poll(t)

	h.portal.pending = append(h.portal.pending, Submission{Values: map[string]string{
		FieldServer:     "influx.example.org",
		FieldPort:       "8087",
		FieldDatabase:   "air",
		FieldDeviceName: strings.Repeat("d", 40),
		FieldGeohash:    "9q8yy",
		FieldSampleTime: "30",
		FieldSensorType: "2",
		"unknown":       "ignored",
	}})

	ev := h.poll(t)
	require.Equal(t, EventConfigSaved, ev.Kind)
	require.NoError(t, ev.Err)

	require.Len(t, h.saver.saved, 1)
	saved := h.saver.saved[0]
	assert.Equal(t, "influx.example.org", saved.ServerHost)
	assert.Equal(t, "8087", saved.ServerPort)
	assert.Equal(t, "air", saved.DatabaseName)
	assert.Equal(t, strings.Repeat("d", model.DeviceNameCap), saved.DeviceName)
	assert.Equal(t, "9q8yy", saved.LocationTag)
	assert.Equal(t, 30, saved.SampleIntervalSeconds)
	assert.Equal(t, model.SensorSPS, saved.SensorType)

	assert.Equal(t, saved, h.cfg, "live record follows the saved one")
	assert.Equal(t, h.cfg, ev.Config)
	assert.Equal(t, PortalActive, h.ctrl.State())

	session, ok := h.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, 3, session.Ticks, "the submission tick counts towards the keep-alive")

	for _, f := range h.portal.fields {
		if f.ID == FieldPort {
			assert.Equal(t, "8087", f.Value, "portal shows the saved values")
		}
	}
}

func TestPortalSubmissionRejectsUnknownSensorChoice(t *testing.T) {
	h := newHarness(&fakeRadio{}, defaultSettings)
	h.poll(t)

	h.portal.pending = append(h.portal.pending, Submission{Values: map[string]string{FieldSensorType: "7"}})
	ev := h.poll(t)
	require.Equal(t, EventConfigSaved, ev.Kind)
	assert.Equal(t, model.SensorAuto, h.cfg.SensorType)
}

func TestPortalSubmissionWithCredentialsConnects(t *testing.T) {
	radio := &fakeRadio{connectErr: errors.New("no ap"), acceptSSID: "home"}
	h := newHarness(radio, defaultSettings)
	radio.onConnected = func() { h.link.up = true }

	require.Equal(t, EventPortalStarted, h.poll(t).Kind)

	h.portal.pending = append(h.portal.pending, Submission{Values: map[string]string{
		FieldSSID:     "home",
		FieldPassword: "secret",
	}})

	ev := h.poll(t)
	assert.Equal(t, EventConfigSaved, ev.Kind)
	assert.Equal(t, Connected, h.ctrl.State())
	assert.False(t, h.portal.running)
	require.NotNil(t, radio.creds)
	assert.Equal(t, "secret", radio.creds.Password)

	for _, f := range h.ctrl.Fields() {
		if f.ID == FieldPassword {
			assert.Empty(t, f.Value, "credentials are not kept in the live set")
		}
	}
}

func TestPortalStopsWhenConnectedElsewhere(t *testing.T) {
	h := newHarness(&fakeRadio{}, defaultSettings)
	require.Equal(t, EventPortalStarted, h.poll(t).Kind)

	h.link.up = true
	ev := h.poll(t)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, Connected, h.ctrl.State())
	assert.False(t, h.portal.running)
}

func TestLinkLoss(t *testing.T) {
	h := newHarness(&fakeRadio{creds: &model.Credentials{SSID: "home"}}, defaultSettings)
	require.Equal(t, EventConnected, h.poll(t).Kind)

	h.link.up = true
	assert.Equal(t, EventNone, h.poll(t).Kind)

	h.link.up = false
	ev := h.poll(t)
	assert.Equal(t, EventLinkLost, ev.Kind)
	assert.Equal(t, Disconnected, h.ctrl.State())
}

func TestPersistFailureKeepsInMemoryConfig(t *testing.T) {
	h := newHarness(&fakeRadio{}, defaultSettings)
	h.saver.err = &store.PersistError{Err: errors.New("flash full")}
	h.poll(t)

	h.portal.pending = append(h.portal.pending, Submission{Values: map[string]string{FieldDeviceName: "kitchen"}})
	ev := h.poll(t)

	require.Equal(t, EventConfigSaved, ev.Kind)
	var perr *store.PersistError
	assert.ErrorAs(t, ev.Err, &perr)
	assert.Equal(t, "kitchen", h.cfg.DeviceName)
	assert.Equal(t, PortalActive, h.ctrl.State())
}
