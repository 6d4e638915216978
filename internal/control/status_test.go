package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bioreactor-controller/internal/model"
)

func TestFormatHM(t *testing.T) {
	assert.Equal(t, "--", formatHM(-1))
	assert.Equal(t, "0h 0m", formatHM(0))
	assert.Equal(t, "1h 1m", formatHM(3661))
	assert.Equal(t, "25h 0m", formatHM(90000))
	assert.Equal(t, "1h 1m 1s", formatHMS(3661))
	assert.Equal(t, "--", formatHMS(-0.5))
}

func TestFormatStatusDefaults(t *testing.T) {
	sp := model.DefaultSetpoints()
	sc := model.NewSchedule(epoch)
	now := epoch.Add(90 * time.Minute)

	st := FormatStatus(sp, sc, 4, now)
	assert.Equal(t, "off in 10h 30m", st.LightCycle)
	assert.Equal(t, "4 dilutions per light cycle. Next in 1h 30m", st.Dilution)
	assert.Equal(t, "measuring again in 2h 30m 0s", st.OD)
	assert.Equal(t, "aerating again in 0h 30m 0s", st.Aerator)
	assert.Equal(t, "No measurements taken yet", st.LastODReadingAgo)
}

func TestFormatStatusDark(t *testing.T) {
	sp := model.DefaultSetpoints()
	sc := model.NewSchedule(epoch)
	now := epoch.Add(20 * time.Hour)

	st := FormatStatus(sp, sc, 4, now)
	assert.Equal(t, "on in 4h 0m", st.LightCycle)
	assert.Equal(t, "Paused until light cycle begins", st.Dilution)
	assert.Equal(t, "--", st.OD[len("measuring again in "):], "overdue countdowns render as --")
}

func TestFormatStatusDisabled(t *testing.T) {
	sp := model.Setpoints{Temperature: 25}
	sc := model.NewSchedule(epoch)

	st := FormatStatus(sp, sc, 4, epoch.Add(time.Hour))
	assert.Equal(t, "lights are off", st.LightCycle)
	assert.Equal(t, "pumping is disabled", st.Dilution)
	assert.Equal(t, "automatic measurement off", st.OD)
	assert.Equal(t, "automatic aeration off", st.Aerator)

	sp.LightCycleHours = 24
	assert.Equal(t, "lights are on", FormatStatus(sp, sc, 4, epoch).LightCycle)
}

func TestFormatStatusLastMeasurement(t *testing.T) {
	sc := model.NewSchedule(epoch)
	measured := epoch.Add(time.Hour)
	sc.LastODMeasurement = &measured

	st := FormatStatus(model.DefaultSetpoints(), sc, 4, measured.Add(2*time.Hour+15*time.Minute))
	assert.Equal(t, "Last measured 2h 15m ago", st.LastODReadingAgo)
}
