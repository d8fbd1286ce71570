// Package publisher holds the telemetry sinks: the InfluxDB writer and the
// optional MQTT mirror.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"canairio/station-agent/internal/model"
	"canairio/station-agent/internal/telemetry"
)

var errNotReachable = errors.New("influxdb not reachable")

// Influx writes points through the v1 compatible endpoint of an InfluxDB
// server: the bucket is the database name and no token is sent.
type Influx struct {
	client   influxdb2.Client
	writer   api.WriteAPIBlocking
	url      string
	database string
	logger   *slog.Logger
}

// DialInflux creates the client for cfg and pings the server before
// returning it.
func DialInflux(ctx context.Context, cfg model.Config, timeout time.Duration, logger *slog.Logger) (*Influx, error) {
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(requestTimeoutSeconds(timeout))
	client := influxdb2.NewClientWithOptions(cfg.ServerURL(), "", opts)

	pctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ok, err := client.Ping(pctx)
	if err == nil && !ok {
		err = errNotReachable
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping influxdb %s: %w", cfg.ServerURL(), err)
	}

	return &Influx{
		client:   client,
		writer:   client.WriteAPIBlocking("", cfg.DatabaseName),
		url:      cfg.ServerURL(),
		database: cfg.DatabaseName,
		logger:   logger,
	}, nil
}

// Publish writes a single point.
func (i *Influx) Publish(ctx context.Context, p telemetry.Point) error {
	pt := toWritePoint(p)
	i.logger.Debug("influxdb line protocol", "line", write.PointToLineProtocol(pt, time.Nanosecond))

	if err := i.writer.WritePoint(ctx, pt); err != nil {
		return fmt.Errorf("write point to %s/%s: %w", i.url, i.database, err)
	}
	return nil
}

// Close releases the HTTP client.
func (i *Influx) Close() error {
	i.client.Close()
	return nil
}

func toWritePoint(p telemetry.Point) *write.Point {
	return influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time)
}

// lineProtocol renders p the way it is sent on the wire.
func lineProtocol(p telemetry.Point) string {
	return write.PointToLineProtocol(toWritePoint(p), time.Nanosecond)
}

func requestTimeoutSeconds(timeout time.Duration) uint {
	secs := uint(timeout / time.Second)
	if secs == 0 {
		secs = 1
	}
	return secs
}
