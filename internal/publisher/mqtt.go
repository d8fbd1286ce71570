package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"canairio/station-agent/internal/telemetry"
)

const topicFormat = "canairio/%s/telemetry"

var errConnectTimeout = errors.New("mqtt connect timed out")

// Topic is the mirror topic for a station.
func Topic(stationName string) string {
	name := strings.TrimSpace(stationName)
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf(topicFormat, name)
}

// MQTT mirrors each point, in line protocol, to a broker.
type MQTT struct {
	client mqtt.Client
	broker string
	logger *slog.Logger
}

// DialMQTT connects to broker, waiting at most timeout.
func DialMQTT(broker, clientID string, timeout time.Duration, logger *slog.Logger) (*MQTT, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).SetAutoReconnect(true).SetConnectTimeout(timeout)
	opts = opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: %w", broker, errConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	logger.Info("connected to mqtt broker", "broker", broker, "client_id", clientID)

	return &MQTT{client: client, broker: broker, logger: logger}, nil
}

// Publish sends p to the station's topic and waits for the broker or ctx.
func (m *MQTT) Publish(ctx context.Context, p telemetry.Point) error {
	topic := Topic(p.Tags["name"])
	token := m.client.Publish(topic, 0, false, lineProtocol(p))

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	m.logger.Info("disconnected from mqtt broker", "broker", m.broker)
	return nil
}
