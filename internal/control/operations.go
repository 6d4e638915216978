package control

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bioreactor-controller/internal/history"
	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/model"
	"bioreactor-controller/internal/sequencer"
	"bioreactor-controller/internal/state"
)

// ErrUnknownActuator is returned for actuator keys the device does not know.
var ErrUnknownActuator = errors.New("unknown actuator")

// AutomationSettings are the raw values of the dashboard settings form.
// Empty or malformed fields leave the corresponding setpoint unchanged.
type AutomationSettings struct {
	Temperature          string
	LightCycleHours      string
	DilutionPercent      string
	ODIntervalHours      string
	AeratorIntervalHours string
}

// Readings returns a copy of the latest readings.
func (c *Controller) Readings() model.Readings {
	return c.store.Readings()
}

// Setpoints returns the current setpoints.
func (c *Controller) Setpoints() model.Setpoints {
	return c.store.Setpoints()
}

// Overrides returns the manual-control flag of every actuator.
func (c *Controller) Overrides() map[model.Actuator]bool {
	return c.store.Overrides()
}

// History returns a copy of the chart series.
func (c *Controller) History() history.Snapshot {
	return c.history.Snapshot()
}

// Busy reports which exclusive sequence, if any, is running.
func (c *Controller) Busy() (sequencer.Kind, bool) {
	return c.seq.Busy()
}

// SetManualOverride puts a under manual control and drives it to v.
func (c *Controller) SetManualOverride(a model.Actuator, v int) {
	if v != 0 {
		v = 1
	}
	c.store.SetOverride(a, true)
	logger.Info("Manual override: %s -> %d", a, v)
	c.set(a, v)
}

// Toggle flips the actuator named key and puts it under manual control.
func (c *Controller) Toggle(key string) error {
	a, ok := model.ParseActuator(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActuator, key)
	}
	c.SetManualOverride(a, 1-c.effective(a))
	return nil
}

// SetAutomation applies the settings form and then resumes automation.
func (c *Controller) SetAutomation(s AutomationSettings) {
	c.SetTemperatureSetpoint(s.Temperature)
	c.SetLightCycle(s.LightCycleHours)
	c.SetDilutionRate(s.DilutionPercent)
	c.SetODInterval(s.ODIntervalHours)
	c.SetAeratorInterval(s.AeratorIntervalHours)
	c.ResumeAutomation()
}

// SetTemperatureSetpoint sets the vessel target in °C.
func (c *Controller) SetTemperatureSetpoint(s string) bool {
	v, ok := parseSetpoint(s)
	if !ok {
		return false
	}
	c.store.Write(func(d *state.Data) { d.Setpoints.Temperature = v })
	logger.Info("Temperature setpoint set to %.2f°C", v)
	return true
}

// SetLightCycle sets the lit hours per day. A new length restarts the cycle
// now; any valid value restarts the dilution interval.
func (c *Controller) SetLightCycle(s string) bool {
	v, ok := parseSetpoint(s)
	if !ok {
		return false
	}
	now := c.now()
	c.store.Write(func(d *state.Data) {
		if d.Setpoints.LightCycleHours != v {
			d.Schedule.LightCycleStart = now
			logger.Info("Light cycle set to %.2fh, cycle restarted.", v)
		}
		d.Setpoints.LightCycleHours = v
		d.Schedule.LastDilution = now
	})
	return true
}

// SetDilutionRate sets the percent of the vessel volume exchanged per day.
func (c *Controller) SetDilutionRate(s string) bool {
	v, ok := parseSetpoint(s)
	if !ok {
		return false
	}
	now := c.now()
	c.store.Write(func(d *state.Data) {
		d.Setpoints.DilutionPercent = v
		d.Schedule.LastDilution = now
	})
	logger.Info("Dilution rate set to %.2f%%", v)
	return true
}

// SetODInterval sets the hours between automatic OD measurements. Zero or
// less disables them.
func (c *Controller) SetODInterval(s string) bool {
	v, ok := parseSetpoint(s)
	if !ok {
		return false
	}
	c.store.Write(func(d *state.Data) { d.Setpoints.ODIntervalHours = v })
	logger.Info("OD interval set to %.2fh", v)
	return true
}

// SetAeratorInterval sets the hours between aeration cycles and counts the
// next one from now. Zero or less disables them.
func (c *Controller) SetAeratorInterval(s string) bool {
	v, ok := parseSetpoint(s)
	if !ok {
		return false
	}
	now := c.now()
	c.store.Write(func(d *state.Data) {
		d.Setpoints.AeratorIntervalHours = v
		d.Schedule.LastAeration = now
	})
	logger.Info("Aerator interval set to %.2fh", v)
	return true
}

// ResumeAutomation clears every manual override, re-applies the temperature
// and light rules at once and idles the sequence-only actuators.
func (c *Controller) ResumeAutomation() {
	logger.Info("Resuming all automation routines.")
	c.store.ClearOverrides()
	for _, a := range []model.Actuator{model.Aerator, model.Pump1, model.Pump2, model.Stir} {
		c.set(a, 0)
	}
	c.handleTemperature()
	c.handleLightCycle(c.now())
}

// TriggerOD starts an OD measurement now. The schedule is not touched.
// It returns false if another sequence holds the gate.
func (c *Controller) TriggerOD() bool {
	logger.Info("Manual OD measurement requested.")
	return c.seq.Launch(sequencer.OD, c.runOD)
}

func parseSetpoint(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		logger.Warn("Ignoring invalid setpoint value %q", s)
		return 0, false
	}
	return v, true
}
