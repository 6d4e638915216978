// Package state holds the single shared record of the reactor: readings,
// setpoints, manual overrides and schedule. One lock guards all of it.
package state

import (
	"sync"
	"time"

	"bioreactor-controller/internal/model"
)

// Data is the aggregate guarded by Store. It is only reachable inside
// Read and Write callbacks.
type Data struct {
	Readings  model.Readings
	Setpoints model.Setpoints
	Overrides map[model.Actuator]bool
	Schedule  model.Schedule
}

// Store is the exclusive-access boundary around Data.
type Store struct {
	mu   sync.RWMutex
	data Data
}

// New creates a store with idle actuators and the schedule anchored at now.
func New(sp model.Setpoints, now time.Time) *Store {
	overrides := make(map[model.Actuator]bool, len(model.Actuators))
	for _, a := range model.Actuators {
		overrides[a] = false
	}
	return &Store{data: Data{
		Readings:  model.NewReadings(),
		Setpoints: sp,
		Overrides: overrides,
		Schedule:  model.NewSchedule(now),
	}}
}

// Read runs fn under the read lock. fn must not retain pointers into d.
func (s *Store) Read(fn func(d *Data)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.data)
}

// Write runs fn under the write lock.
func (s *Store) Write(fn func(d *Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
}

// Readings returns a copy of the latest readings.
func (s *Store) Readings() model.Readings {
	var r model.Readings
	s.Read(func(d *Data) { r = d.Readings.Clone() })
	return r
}

// Setpoints returns a copy of the setpoints.
func (s *Store) Setpoints() model.Setpoints {
	var sp model.Setpoints
	s.Read(func(d *Data) { sp = d.Setpoints })
	return sp
}

// Schedule returns a copy of the schedule.
func (s *Store) Schedule() model.Schedule {
	var sc model.Schedule
	s.Read(func(d *Data) {
		sc = d.Schedule
		if d.Schedule.LastODMeasurement != nil {
			t := *d.Schedule.LastODMeasurement
			sc.LastODMeasurement = &t
		}
	})
	return sc
}

// Actuator returns the recorded state of a.
func (s *Store) Actuator(a model.Actuator) int {
	var v int
	s.Read(func(d *Data) { v = d.Readings.Actuators[a] })
	return v
}

// SetActuator records the state of a.
func (s *Store) SetActuator(a model.Actuator, v int) {
	s.Write(func(d *Data) { d.Readings.Actuators[a] = v })
}

// Overridden reports whether a is under manual control.
func (s *Store) Overridden(a model.Actuator) bool {
	var v bool
	s.Read(func(d *Data) { v = d.Overrides[a] })
	return v
}

// SetOverride sets the manual-control flag of a.
func (s *Store) SetOverride(a model.Actuator, on bool) {
	s.Write(func(d *Data) { d.Overrides[a] = on })
}

// Overrides returns a copy of all override flags.
func (s *Store) Overrides() map[model.Actuator]bool {
	out := make(map[model.Actuator]bool, len(model.Actuators))
	s.Read(func(d *Data) {
		for k, v := range d.Overrides {
			out[k] = v
		}
	})
	return out
}

// ClearOverrides hands every actuator back to automation.
func (s *Store) ClearOverrides() {
	s.Write(func(d *Data) {
		for k := range d.Overrides {
			d.Overrides[k] = false
		}
	})
}

// SetODStep sets or clears (empty string) the OD sequence label.
func (s *Store) SetODStep(step string) {
	s.Write(func(d *Data) {
		if step == "" {
			d.Readings.ODSequenceStep = nil
			return
		}
		d.Readings.ODSequenceStep = &step
	})
}
