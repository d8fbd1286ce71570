package publisher

import (
	"context"
	"log/slog"
	"time"

	"canairio/station-agent/internal/model"
	"canairio/station-agent/internal/telemetry"
)

// DialOptions configure the publishers opened for each endpoint.
type DialOptions struct {
	Timeout time.Duration
	// MQTTBroker enables the mirror when set, e.g. tcp://localhost:1883.
	MQTTBroker string
	ClientID   string
}

// NewDialer returns the telemetry.DialFunc used by the scheduler. A broker
// that cannot be reached disables the mirror for that session only.
func NewDialer(opts DialOptions, logger *slog.Logger) telemetry.DialFunc {
	return func(ctx context.Context, cfg model.Config) (telemetry.Publisher, error) {
		influx, err := DialInflux(ctx, cfg, opts.Timeout, logger)
		if err != nil {
			return nil, err
		}
		if opts.MQTTBroker == "" {
			return influx, nil
		}

		mirror, err := DialMQTT(opts.MQTTBroker, opts.ClientID, opts.Timeout, logger)
		if err != nil {
			logger.Warn("mqtt mirror disabled", "broker", opts.MQTTBroker, "error", err)
			return influx, nil
		}
		return NewMulti(logger, influx, mirror), nil
	}
}
