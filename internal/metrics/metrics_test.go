package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePublish("published", 1)
	m.ObservePublish("dropped", 6)
	m.ObservePublish("published", 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PublishTotal.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishTotal.WithLabelValues("dropped")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.PublishAttempts))

	m.ObserveConfigSave(nil)
	m.ObserveConfigSave(errors.New("flash full"))
	m.ObserveConfigSave(nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConfigSaves.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigSaves.WithLabelValues("error")))

	m.SetLinkConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkConnected))
	m.SetLinkConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LinkConnected))
}

func TestProvisioningEventsExposition(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveEvent("portal_started")
	m.ObserveEvent("portal_expired")
	m.ObserveEvent("portal_started")

	expected := `
# HELP canairio_provisioning_events_total Provisioning state machine events
# TYPE canairio_provisioning_events_total counter
canairio_provisioning_events_total{event="portal_expired"} 1
canairio_provisioning_events_total{event="portal_started"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(m.ProvisionEvents, strings.NewReader(expected)))
}
