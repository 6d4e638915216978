package control

import (
	"math"
	"time"

	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/model"
	"bioreactor-controller/internal/sequencer"
	"bioreactor-controller/internal/state"
)

const secondsPerDay = 24 * 60 * 60

// HeaterTarget applies the element cutoff and the hysteresis band (of width
// hysteresis, centred on the setpoint). change is false when the heater should
// keep its current state.
func HeaterTarget(t1, t2 *float64, setpoint, hysteresis, elementMax float64, current int) (target int, change bool) {
	if t2 != nil && *t2 >= elementMax {
		return 0, current != 0
	}
	if t1 == nil {
		return current, false
	}
	half := hysteresis / 2
	switch {
	case *t1 < setpoint-half && current == 0:
		return 1, true
	case *t1 > setpoint+half && current == 1:
		return 0, true
	}
	return current, false
}

// LightsOn reports whether now falls in the lit part of the 24 hour cycle
// that started at start. The lit window is (start, start+cycle) each day.
func LightsOn(cycleHours float64, start, now time.Time) bool {
	cycle := cycleHours * 3600
	if cycle <= 0 {
		return false
	}
	if cycle >= secondsPerDay {
		return true
	}
	inDay := math.Mod(now.Sub(start).Seconds(), secondsPerDay)
	if inDay < 0 {
		inDay += secondsPerDay
	}
	return inDay > 0 && inDay < cycle
}

// DilutionInterval spreads the dilutions evenly over the lit period.
func DilutionInterval(cycleHours float64, perCycle int) time.Duration {
	if perCycle <= 0 || cycleHours <= 0 {
		return 0
	}
	return hours(cycleHours) / time.Duration(perCycle)
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func (c *Controller) handleTemperature() {
	var (
		t1, t2     *float64
		setpoint   float64
		overridden bool
	)
	c.store.Read(func(d *state.Data) {
		t1, t2 = d.Readings.T1, d.Readings.T2
		setpoint = d.Setpoints.Temperature
		overridden = d.Overrides[model.Heater]
	})
	if overridden {
		return
	}

	current := c.effective(model.Heater)
	target, change := HeaterTarget(t1, t2, setpoint, c.reactor.TempHysteresis, c.reactor.HeaterElementMaxTemp, current)
	if !change {
		return
	}
	if t2 != nil && *t2 >= c.reactor.HeaterElementMaxTemp {
		logger.Warn("Heating element at %.1f°C (limit %.1f°C). Switching heater off.", *t2, c.reactor.HeaterElementMaxTemp)
		c.alert("Heater cut off: element temperature %.1f°C", *t2)
	} else {
		logger.Info("Temperature %.2f°C, setpoint %.2f°C. Heater -> %d", *t1, setpoint, target)
	}
	c.set(model.Heater, target)
}

func (c *Controller) handleLightCycle(now time.Time) {
	var (
		cycleHours float64
		start      time.Time
		overridden bool
	)
	c.store.Read(func(d *state.Data) {
		cycleHours = d.Setpoints.LightCycleHours
		start = d.Schedule.LightCycleStart
		overridden = d.Overrides[model.Lights]
	})
	// The OD sequence darkens the vessel and restores the lights itself.
	if overridden || c.seq.Running(sequencer.OD) {
		return
	}

	want := 0
	if LightsOn(cycleHours, start, now) {
		want = 1
	}
	if c.effective(model.Lights) != want {
		logger.Info("Light cycle: lights -> %d", want)
		c.set(model.Lights, want)
	}
}

// handleDilutionSchedule fires a dilution when the interval has elapsed
// during the lit period. While the lights are off the reference is held one
// interval behind now, so the first tick of the next lit period is due.
func (c *Controller) handleDilutionSchedule(now time.Time) {
	fire := false
	c.store.Write(func(d *state.Data) {
		interval := DilutionInterval(d.Setpoints.LightCycleHours, c.reactor.DilutionsPerCycle)
		if interval <= 0 {
			return
		}
		if !LightsOn(d.Setpoints.LightCycleHours, d.Schedule.LightCycleStart, now) {
			// Deliberately one interval back, not now: the first lit tick must fire.
			d.Schedule.LastDilution = now.Add(-interval)
			return
		}
		if now.After(d.Schedule.LastDilution.Add(interval)) {
			d.Schedule.LastDilution = now
			fire = true
		}
	})
	if fire {
		c.seq.Launch(sequencer.Dilution, c.runDilution)
	}
}

func (c *Controller) handleODSchedule(now time.Time) {
	fire := false
	c.store.Write(func(d *state.Data) {
		interval := hours(d.Setpoints.ODIntervalHours)
		if interval <= 0 {
			return
		}
		if now.After(d.Schedule.LastODReading.Add(interval)) {
			d.Schedule.LastODReading = now
			fire = true
		}
	})
	if fire {
		c.seq.Launch(sequencer.OD, c.runOD)
	}
}

func (c *Controller) handleAeratorSchedule(now time.Time) {
	fire := false
	c.store.Write(func(d *state.Data) {
		interval := hours(d.Setpoints.AeratorIntervalHours)
		if interval <= 0 {
			return
		}
		if now.After(d.Schedule.LastAeration.Add(interval)) {
			d.Schedule.LastAeration = now
			fire = true
		}
	})
	if fire {
		c.seq.Launch(sequencer.Aeration, c.runAeration)
	}
}

func (c *Controller) updateStatus(now time.Time) {
	var (
		sp model.Setpoints
		sc model.Schedule
	)
	c.store.Read(func(d *state.Data) {
		sp = d.Setpoints
		sc = d.Schedule
	})
	st := FormatStatus(sp, sc, c.reactor.DilutionsPerCycle, now)
	c.store.Write(func(d *state.Data) {
		d.Readings.LightCycleStatus = st.LightCycle
		d.Readings.DilutionStatus = st.Dilution
		d.Readings.ODStatus = st.OD
		d.Readings.AeratorStatus = st.Aerator
		d.Readings.LastODReadingAgo = st.LastODReadingAgo
	})
}
