// Package indicator drives the status LED pulsed after each successful publish.
package indicator

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultPulse = 200 * time.Millisecond

// LED toggles a sysfs style brightness file. With no path it only logs.
type LED struct {
	path   string
	pulse  time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	count int
}

// NewLED drives the brightness file at path. An empty path only logs pulses;
// a non-positive pulse uses the default length.
func NewLED(path string, pulse time.Duration, logger *slog.Logger) *LED {
	if pulse <= 0 {
		pulse = defaultPulse
	}
	return &LED{path: path, pulse: pulse, logger: logger}
}

// Pulse turns the LED on and schedules it off. It does not block.
func (l *LED) Pulse() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.path == "" {
		l.logger.Debug("status led pulse", "count", l.count)
		return
	}

	l.write("1")
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.pulse, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.write("0")
	})
}

// Count is the number of pulses so far.
func (l *LED) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close switches the LED off.
func (l *LED) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.path != "" {
		l.write("0")
	}
}

func (l *LED) write(v string) {
	if err := os.WriteFile(l.path, []byte(v), 0o644); err != nil {
		l.logger.Warn("status led write failed", "path", l.path, "error", err)
	}
}
