package control

import (
	"fmt"
	"math"
	"time"

	"bioreactor-controller/internal/model"
)

// Status holds the dashboard strings derived from setpoints and schedule.
type Status struct {
	LightCycle       string
	Dilution         string
	OD               string
	Aerator          string
	LastODReadingAgo string
}

// FormatStatus renders the countdowns for now. It has no side effects.
func FormatStatus(sp model.Setpoints, sc model.Schedule, dilutionsPerCycle int, now time.Time) Status {
	var st Status

	cycle := sp.LightCycleHours * 3600
	switch {
	case cycle <= 0:
		st.LightCycle = "lights are off"
	case cycle >= secondsPerDay:
		st.LightCycle = "lights are on"
	default:
		inDay := math.Mod(now.Sub(sc.LightCycleStart).Seconds(), secondsPerDay)
		if inDay < 0 {
			inDay += secondsPerDay
		}
		if inDay < cycle {
			st.LightCycle = "off in " + formatHM(cycle-inDay)
		} else {
			st.LightCycle = "on in " + formatHM(secondsPerDay-inDay)
		}
	}

	switch {
	case sp.DilutionPercent <= 0:
		st.Dilution = "pumping is disabled"
	case !LightsOn(sp.LightCycleHours, sc.LightCycleStart, now):
		st.Dilution = "Paused until light cycle begins"
	default:
		interval := DilutionInterval(sp.LightCycleHours, dilutionsPerCycle)
		next := sc.LastDilution.Add(interval).Sub(now)
		st.Dilution = fmt.Sprintf("%d dilutions per light cycle. Next in %s", dilutionsPerCycle, formatHM(next.Seconds()))
	}

	if sp.ODIntervalHours > 0 {
		next := sc.LastODReading.Add(hours(sp.ODIntervalHours)).Sub(now)
		st.OD = "measuring again in " + formatHMS(next.Seconds())
	} else {
		st.OD = "automatic measurement off"
	}

	if sp.AeratorIntervalHours > 0 {
		next := sc.LastAeration.Add(hours(sp.AeratorIntervalHours)).Sub(now)
		st.Aerator = "aerating again in " + formatHMS(next.Seconds())
	} else {
		st.Aerator = "automatic aeration off"
	}

	if sc.LastODMeasurement != nil {
		st.LastODReadingAgo = fmt.Sprintf("Last measured %s ago", formatHM(now.Sub(*sc.LastODMeasurement).Seconds()))
	} else {
		st.LastODReadingAgo = "No measurements taken yet"
	}
	return st
}

// formatHM renders seconds as "Xh Ym"; negative values render as "--".
func formatHM(seconds float64) string {
	if seconds < 0 {
		return "--"
	}
	h := int(seconds / 3600)
	m := int(math.Mod(seconds, 3600) / 60)
	return fmt.Sprintf("%dh %dm", h, m)
}

func formatHMS(seconds float64) string {
	if seconds < 0 {
		return "--"
	}
	h := int(seconds / 3600)
	m := int(math.Mod(seconds, 3600) / 60)
	s := int(math.Mod(seconds, 60))
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
