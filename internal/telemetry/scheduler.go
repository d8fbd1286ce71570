// Package telemetry samples the station sensors on a fixed cadence and
// publishes each sample with bounded retry.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"canairio/station-agent/internal/model"
)

// ErrPublishDropped is reported when every attempt of a cycle failed.
var ErrPublishDropped = errors.New("sample dropped after retries")

// Sensor is the sensor bus collaborator.
type Sensor interface {
	DataReady() bool
	Sample() model.Sample
}

// Publisher sends one point to the time-series endpoint.
type Publisher interface {
	Publish(ctx context.Context, p Point) error
	Close() error
}

// DialFunc opens a publisher for the endpoint described by cfg.
type DialFunc func(ctx context.Context, cfg model.Config) (Publisher, error)

// Indicator gives a visible confirmation of a successful publish.
type Indicator interface {
	Pulse()
}

// Options are the scheduler tunables.
type Options struct {
	MaxRetries     int
	RetryDelay     time.Duration
	PublishTimeout time.Duration
	// GateFactor multiplies the configured sample interval to get the
	// publish cadence.
	GateFactor int
}

// Outcome classifies one Poll.
type Outcome int

const (
	Disabled Outcome = iota
	Waiting
	NotReady
	DialFailed
	Published
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Waiting:
		return "waiting"
	case NotReady:
		return "not_ready"
	case DialFailed:
		return "dial_failed"
	case Published:
		return "published"
	case Dropped:
		return "dropped"
	default:
		return "disabled"
	}
}

// Result reports what a Poll did. Attempts counts publisher calls.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// Attempt is the transient record of one publish cycle.
type Attempt struct {
	Sample     model.Sample
	Retries    int
	MaxRetries int
	Delay      time.Duration
}

// Scheduler gates, samples and publishes. It is polled from the control loop.
type Scheduler struct {
	sensor    Sensor
	dial      DialFunc
	indicator Indicator
	opts      Options
	logger    *slog.Logger

	last time.Time
	pub  Publisher
}

// NewScheduler starts the cadence at now.
func NewScheduler(sensor Sensor, dial DialFunc, indicator Indicator, opts Options, now time.Time, logger *slog.Logger) *Scheduler {
	if opts.GateFactor <= 0 {
		opts.GateFactor = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Scheduler{
		sensor:    sensor,
		dial:      dial,
		indicator: indicator,
		opts:      opts,
		logger:    logger,
		last:      now,
	}
}

// Reconfigure drops the current publisher; the next cycle dials cfg's endpoint.
func (s *Scheduler) Reconfigure() {
	if s.pub == nil {
		return
	}
	if err := s.pub.Close(); err != nil {
		s.logger.Warn("failed to close publisher", "error", err)
	}
	s.pub = nil
}

// Close releases the publisher.
func (s *Scheduler) Close() {
	s.Reconfigure()
}

// Poll runs a publish cycle when the cadence is due. With a non-positive
// sample interval it never publishes.
func (s *Scheduler) Poll(ctx context.Context, now time.Time, cfg model.Config, id Identity, connected bool) Result {
	if !cfg.TelemetryEnabled() {
		return Result{Outcome: Disabled}
	}

	gate := time.Duration(cfg.SampleIntervalSeconds) * time.Second * time.Duration(s.opts.GateFactor)
	if now.Sub(s.last) <= gate {
		return Result{Outcome: Waiting}
	}
	s.last = now

	if !s.sensor.DataReady() || !connected {
		return Result{Outcome: NotReady}
	}

	if s.pub == nil {
		pub, err := s.dial(ctx, cfg)
		if err != nil {
			s.logger.Error("influxdb connection error", "server", cfg.ServerURL(), "database", cfg.DatabaseName, "error", err)
			return Result{Outcome: DialFailed, Err: err}
		}
		s.logger.Info("influxdb connected", "server", cfg.ServerURL(), "database", cfg.DatabaseName)
		s.pub = pub
	}

	attempt := Attempt{
		Sample:     s.sensor.Sample(),
		MaxRetries: s.opts.MaxRetries,
		Delay:      s.opts.RetryDelay,
	}
	s.logger.Debug("sensor sample", "pm1", attempt.Sample.PM1, "pm25", attempt.Sample.PM25, "pm10", attempt.Sample.PM10)
	s.logger.Info("publishing sample", "device", cfg.DeviceName, "server", cfg.ServerHost)

	point := BuildPoint(attempt.Sample, cfg, id, now)
	calls, err := s.publish(ctx, point, &attempt)
	if err != nil {
		s.logger.Error("write error, sample dropped",
			"device", cfg.DeviceName, "server", cfg.ServerHost, "port", cfg.ServerPort,
			"attempts", calls, "error", err)
		return Result{Outcome: Dropped, Attempts: calls, Err: fmt.Errorf("%w: %w", ErrPublishDropped, err)}
	}

	s.logger.Info("write done", "attempts", calls)
	if s.indicator != nil {
		s.indicator.Pulse()
	}
	return Result{Outcome: Published, Attempts: calls}
}

func (s *Scheduler) publish(ctx context.Context, point Point, attempt *Attempt) (int, error) {
	calls := 0
	op := func() error {
		calls++
		pctx := ctx
		if s.opts.PublishTimeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, s.opts.PublishTimeout)
			defer cancel()
		}
		return s.pub.Publish(pctx, point)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(attempt.Delay), uint64(attempt.MaxRetries)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		attempt.Retries++
		s.logger.Warn("write point failed, retrying",
			"retry", attempt.Retries, "max_retries", attempt.MaxRetries, "in", next.String(), "error", err)
	})
	return calls, err
}
