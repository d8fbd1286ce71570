package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles station metrics.
type Metrics struct {
	PublishTotal    *prometheus.CounterVec
	PublishAttempts prometheus.Counter
	ProvisionEvents *prometheus.CounterVec
	ConfigSaves     *prometheus.CounterVec
	LinkConnected   prometheus.Gauge
	Restarts        prometheus.Counter
}

// New constructs metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canairio_publish_cycles_total",
				Help: "Telemetry publish cycles by outcome",
			},
			[]string{"outcome"},
		),
		PublishAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canairio_publish_attempts_total",
			Help: "Write calls made to the time-series endpoint, retries included",
		}),
		ProvisionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canairio_provisioning_events_total",
				Help: "Provisioning state machine events",
			},
			[]string{"event"},
		),
		ConfigSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canairio_config_saves_total",
				Help: "Configuration commits by result",
			},
			[]string{"result"},
		),
		LinkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canairio_link_connected",
			Help: "1 when the station link is up",
		}),
		Restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canairio_restart_requests_total",
			Help: "Restarts requested by the connectivity monitor",
		}),
	}
	reg.MustRegister(
		m.PublishTotal,
		m.PublishAttempts,
		m.ProvisionEvents,
		m.ConfigSaves,
		m.LinkConnected,
		m.Restarts,
	)
	return m
}

// ObservePublish records one scheduler cycle that reached the publisher.
func (m *Metrics) ObservePublish(outcome string, attempts int) {
	m.PublishTotal.WithLabelValues(outcome).Inc()
	m.PublishAttempts.Add(float64(attempts))
}

// ObserveEvent counts one provisioning event by kind.
func (m *Metrics) ObserveEvent(event string) {
	m.ProvisionEvents.WithLabelValues(event).Inc()
}

// ObserveConfigSave counts a configuration commit as ok or error.
func (m *Metrics) ObserveConfigSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ConfigSaves.WithLabelValues(result).Inc()
}

// SetLinkConnected sets the link gauge to 1 when up and 0 otherwise.
func (m *Metrics) SetLinkConnected(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.LinkConnected.Set(v)
}
