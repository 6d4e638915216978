package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bioreactor-controller/internal/model"
)

func TestNewStoreDefaults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := New(model.DefaultSetpoints(), now)

	r := s.Readings()
	for _, a := range model.Actuators {
		assert.Equal(t, 0, r.Actuators[a], a)
		assert.False(t, s.Overridden(a), a)
	}
	assert.Nil(t, r.T1)
	assert.Nil(t, r.ODSequenceStep)

	sc := s.Schedule()
	assert.Equal(t, now, sc.LightCycleStart)
	assert.Equal(t, now, sc.LastODReading)
	assert.Equal(t, now, sc.LastAeration)
	assert.Equal(t, now, sc.LastDilution)
	assert.Nil(t, sc.LastODMeasurement)
}

func TestReadingsAreCopies(t *testing.T) {
	s := New(model.DefaultSetpoints(), time.Now())
	v := 24.0
	s.Write(func(d *Data) { d.Readings.T1 = &v })

	r := s.Readings()
	*r.T1 = 99
	r.Actuators[model.Heater] = 1

	again := s.Readings()
	assert.Equal(t, 24.0, *again.T1)
	assert.Equal(t, 0, again.Actuators[model.Heater])
}

func TestOverrides(t *testing.T) {
	s := New(model.DefaultSetpoints(), time.Now())
	s.SetOverride(model.Lights, true)
	s.SetOverride(model.Pump1, true)

	o := s.Overrides()
	assert.True(t, o[model.Lights])
	assert.True(t, o[model.Pump1])
	assert.False(t, o[model.Heater])

	s.ClearOverrides()
	for _, a := range model.Actuators {
		assert.False(t, s.Overridden(a))
	}
}

func TestODStepLabel(t *testing.T) {
	s := New(model.DefaultSetpoints(), time.Now())
	s.SetODStep("Stirring... 5s")
	assert.Equal(t, "Stirring... 5s", *s.Readings().ODSequenceStep)
	s.SetODStep("")
	assert.Nil(t, s.Readings().ODSequenceStep)
}

func TestConcurrentAccess(t *testing.T) {
	s := New(model.DefaultSetpoints(), time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.SetActuator(model.Actuators[(i+j)%len(model.Actuators)], j%2)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = s.Readings()
				_ = s.Schedule()
			}
		}()
	}
	wg.Wait()
}
