// Package sensor provides a simulated particulate/environment sensor bus.
package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"canairio/station-agent/internal/model"
)

// Sim produces plausible readings around a fixed baseline once its warm-up
// period is over.
type Sim struct {
	warmup time.Duration
	now    func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	started time.Time
	base    model.Sample
}

// NewSim starts warming up at now(). A nil now uses time.Now.
func NewSim(seed int64, warmup time.Duration, now func() time.Time) *Sim {
	if now == nil {
		now = time.Now
	}
	return &Sim{
		warmup:  warmup,
		now:     now,
		rng:     rand.New(rand.NewSource(seed)),
		started: now(),
		base: model.Sample{
			PM1: 6, PM25: 12, PM10: 18,
			CO2: 420, CO2Humidity: 48, CO2Temperature: 22,
			Pressure: 1013.25, Gas: 35, Altitude: 120,
		},
	}
}

// DataReady reports whether the warm-up period has elapsed.
func (s *Sim) DataReady() bool {
	return s.now().Sub(s.started) >= s.warmup
}

// Sample returns the current readings. The main humidity and temperature
// channels read zero, as on stations without a dedicated sensor.
func (s *Sim) Sample() model.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	return model.Sample{
		PM1:            s.jitter(s.base.PM1, 0.2),
		PM25:           s.jitter(s.base.PM25, 0.2),
		PM10:           s.jitter(s.base.PM10, 0.2),
		CO2:            s.jitter(s.base.CO2, 0.05),
		CO2Humidity:    s.jitter(s.base.CO2Humidity, 0.05),
		CO2Temperature: s.jitter(s.base.CO2Temperature, 0.02),
		Pressure:       s.jitter(s.base.Pressure, 0.001),
		Gas:            s.jitter(s.base.Gas, 0.1),
		Altitude:       s.base.Altitude,
	}
}

func (s *Sim) jitter(v, ratio float64) float64 {
	delta := (s.rng.Float64()*2 - 1) * v * ratio
	return math.Round((v+delta)*100) / 100
}
