package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimWarmup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSim(1, 30*time.Second, func() time.Time { return now })

	assert.False(t, s.DataReady())
	now = now.Add(29 * time.Second)
	assert.False(t, s.DataReady())
	now = now.Add(time.Second)
	assert.True(t, s.DataReady())
}

func TestSimSampleWithinRange(t *testing.T) {
	s := NewSim(42, 0, nil)
	for i := 0; i < 100; i++ {
		sample := s.Sample()
		assert.InDelta(t, 12, sample.PM25, 12*0.2+0.01)
		assert.InDelta(t, 420, sample.CO2, 420*0.05+0.01)
		assert.Zero(t, sample.Humidity)
		assert.Equal(t, sample.CO2Humidity, sample.EffectiveHumidity())
	}
}
