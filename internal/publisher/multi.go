package publisher

import (
	"context"
	"errors"
	"log/slog"

	"canairio/station-agent/internal/telemetry"
)

// Multi writes to a primary publisher and copies every point to mirrors.
// Only the primary's result counts; mirror failures are logged.
type Multi struct {
	primary telemetry.Publisher
	mirrors []telemetry.Publisher
	logger  *slog.Logger
}

// NewMulti publishes to primary and copies every point to mirrors.
func NewMulti(logger *slog.Logger, primary telemetry.Publisher, mirrors ...telemetry.Publisher) *Multi {
	return &Multi{primary: primary, mirrors: mirrors, logger: logger}
}

// Publish returns the primary's error; mirror failures are only logged.
func (m *Multi) Publish(ctx context.Context, p telemetry.Point) error {
	if err := m.primary.Publish(ctx, p); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Publish(ctx, p); err != nil {
			m.logger.Warn("mirror publish failed", "error", err)
		}
	}
	return nil
}

// Close closes every publisher and joins their errors.
func (m *Multi) Close() error {
	errs := []error{m.primary.Close()}
	for _, mirror := range m.mirrors {
		errs = append(errs, mirror.Close())
	}
	return errors.Join(errs...)
}
