// Package connectivity tracks the station link and decides when a stuck link
// warrants a restart.
package connectivity

import (
	"errors"
	"log/slog"
	"time"

	"canairio/station-agent/internal/model"
)

// ErrRestartRequired is returned once the link stayed down past the ceiling.
// It is not recoverable: the process is expected to exit and be restarted.
var ErrRestartRequired = errors.New("link down past restart ceiling")

// State is the monitor's view of the link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// LinkReporter reports the radio's station link.
type LinkReporter interface {
	Status() model.LinkStatus
}

// Monitor owns the ConnectivityState. Other components only read it.
type Monitor struct {
	link    LinkReporter
	ceiling time.Duration
	logger  *slog.Logger

	state          State
	lastTransition time.Time
	downSince      time.Time
	restart        bool
}

// NewMonitor starts in Disconnected at now. A ceiling <= 0 disables restarts.
func NewMonitor(link LinkReporter, ceiling time.Duration, now time.Time, logger *slog.Logger) *Monitor {
	return &Monitor{
		link:           link,
		ceiling:        ceiling,
		logger:         logger,
		state:          Disconnected,
		lastTransition: now,
		downSince:      now,
	}
}

// Poll samples the link and updates the state. Once the link has not been
// Connected for longer than the ceiling it returns ErrRestartRequired, and
// keeps returning it.
func (m *Monitor) Poll(now time.Time) error {
	if m.restart {
		return ErrRestartRequired
	}

	next := fromLink(m.link.Status())
	if next != m.state {
		m.logger.Info("link state changed", "from", m.state.String(), "to", next.String())
		if m.state == Connected {
			m.downSince = now
		}
		m.state = next
		m.lastTransition = now
	}

	if m.state != Connected && m.ceiling > 0 && now.Sub(m.downSince) > m.ceiling {
		m.restart = true
		m.logger.Error("link is down, restart required", "down_for", now.Sub(m.downSince).String(), "ceiling", m.ceiling.String())
		return ErrRestartRequired
	}
	return nil
}

// State returns the current link state.
func (m *Monitor) State() State {
	return m.state
}

// IsConnected reports whether the link is up.
func (m *Monitor) IsConnected() bool {
	return m.state == Connected
}

// LastTransitionTime is when the state last changed.
func (m *Monitor) LastTransitionTime() time.Time {
	return m.lastTransition
}

// DownSince is when the link last left Connected, or the start time.
func (m *Monitor) DownSince() time.Time {
	return m.downSince
}

// RestartRequested reports whether the ceiling was hit.
func (m *Monitor) RestartRequested() bool {
	return m.restart
}

func fromLink(s model.LinkStatus) State {
	switch s {
	case model.LinkUp:
		return Connected
	case model.LinkAssociating:
		return Connecting
	default:
		return Disconnected
	}
}
