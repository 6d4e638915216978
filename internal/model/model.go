package model

import (
	"encoding/json"
	"time"
)

// Actuator is the device-side key of a binary output.
type Actuator string

const (
	Heater  Actuator = "heater"
	Stir    Actuator = "stir"
	Lights  Actuator = "lights"
	Aerator Actuator = "aerator"
	Pump1   Actuator = "pump1" // feed
	Pump2   Actuator = "pump2" // waste
	IRLED   Actuator = "irled"
)

// Actuators lists every output in a stable order.
var Actuators = []Actuator{Heater, Stir, Lights, Aerator, Pump1, Pump2, IRLED}

// ParseActuator validates a user supplied key.
func ParseActuator(s string) (Actuator, bool) {
	for _, a := range Actuators {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Readings is the merged record of the latest sensor values, actuator
// states and status strings.
type Readings struct {
	T1 *float64 // vessel
	T2 *float64 // heating element
	L1 *int     // reference photodiode
	L2 *int     // transmitted photodiode
	OD *float64

	Actuators map[Actuator]int

	LightCycleStatus string
	DilutionStatus   string
	ODStatus         string
	AeratorStatus    string
	LastODReadingAgo string
	ODSequenceStep   *string

	// PendingOD holds a completed measurement until it is written to the CSV log.
	PendingOD *float64
}

// NewReadings returns readings with every actuator at 0.
func NewReadings() Readings {
	r := Readings{
		Actuators:        make(map[Actuator]int, len(Actuators)),
		LightCycleStatus: "--",
		DilutionStatus:   "--",
		ODStatus:         "--",
		AeratorStatus:    "--",
		LastODReadingAgo: "No measurements taken yet",
	}
	for _, a := range Actuators {
		r.Actuators[a] = 0
	}
	return r
}

// Clone returns a deep copy safe to hand out of the state lock.
func (r Readings) Clone() Readings {
	c := r
	c.T1 = cloneF(r.T1)
	c.T2 = cloneF(r.T2)
	c.OD = cloneF(r.OD)
	c.PendingOD = cloneF(r.PendingOD)
	c.L1 = cloneI(r.L1)
	c.L2 = cloneI(r.L2)
	if r.ODSequenceStep != nil {
		s := *r.ODSequenceStep
		c.ODSequenceStep = &s
	}
	c.Actuators = make(map[Actuator]int, len(r.Actuators))
	for k, v := range r.Actuators {
		c.Actuators[k] = v
	}
	return c
}

// MarshalJSON flattens the record into the shape the dashboard consumes.
func (r Readings) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"t1":                  r.T1,
		"t2":                  r.T2,
		"l1":                  r.L1,
		"l2":                  r.L2,
		"od":                  r.OD,
		"light_cycle_status":  r.LightCycleStatus,
		"dilution_status":     r.DilutionStatus,
		"od_status":           r.ODStatus,
		"aerator_status":      r.AeratorStatus,
		"last_od_reading_ago": r.LastODReadingAgo,
		"od_sequence_step":    r.ODSequenceStep,
	}
	for _, a := range Actuators {
		m[string(a)] = r.Actuators[a]
	}
	return json.Marshal(m)
}

// Setpoints are the user-adjustable targets.
type Setpoints struct {
	Temperature          float64 `json:"temperature" yaml:"temperature"`
	LightCycleHours      float64 `json:"light_cycle_hours" yaml:"light_cycle_hours"`
	DilutionPercent      float64 `json:"dilution_percent" yaml:"dilution_percent"`
	ODIntervalHours      float64 `json:"od_interval_hours" yaml:"od_interval_hours"`
	AeratorIntervalHours float64 `json:"aerator_interval_hours" yaml:"aerator_interval_hours"`
}

// DefaultSetpoints are used when the config file does not provide any.
func DefaultSetpoints() Setpoints {
	return Setpoints{
		Temperature:          25.0,
		LightCycleHours:      12,
		DilutionPercent:      15.0,
		ODIntervalHours:      4.0,
		AeratorIntervalHours: 2.0,
	}
}

// Schedule holds the reference timestamps of the periodic routines.
// The "last" times are stamped when a routine is triggered, not when it ends.
type Schedule struct {
	LightCycleStart time.Time `json:"light_cycle_start_time"`
	LastODReading   time.Time `json:"last_od_reading_timestamp"`
	LastAeration    time.Time `json:"last_aeration_timestamp"`
	LastDilution    time.Time `json:"last_dilution_time"`

	// LastODMeasurement is set only when a measurement succeeds.
	LastODMeasurement *time.Time `json:"last_od_measurement,omitempty"`
}

// NewSchedule anchors every routine at now.
func NewSchedule(now time.Time) Schedule {
	return Schedule{
		LightCycleStart: now,
		LastODReading:   now,
		LastAeration:    now,
		LastDilution:    now,
	}
}

// Sample is one ingested packet as it goes to the telemetry sinks.
type Sample struct {
	Time      time.Time        `json:"timestamp"`
	T1        *float64         `json:"t1"`
	T2        *float64         `json:"t2"`
	L1        *int             `json:"l1"`
	L2        *int             `json:"l2"`
	OD        *float64         `json:"od"`
	Actuators map[Actuator]int `json:"actuators,omitempty"`
}

func cloneF(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneI(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
