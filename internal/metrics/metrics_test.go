package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioreactor-controller/internal/model"
	"bioreactor-controller/internal/sequencer"
)

func TestSequenceObserver(t *testing.T) {
	m := New()
	m.SequenceStarted(sequencer.OD)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SequenceActive.WithLabelValues("od")))

	m.SequenceSkipped(sequencer.Aeration)
	m.SequenceFinished(sequencer.OD)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SequenceRuns.WithLabelValues("od")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SequenceSkips.WithLabelValues("aeration")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SequenceActive.WithLabelValues("od")))
}

func TestCommandsAndSamples(t *testing.T) {
	m := New()
	m.CommandSent(model.Heater, 1)
	m.CommandSent(model.Heater, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsSent.WithLabelValues("heater")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActuatorState.WithLabelValues("heater")))

	t1 := 24.5
	m.ObserveSample(model.Sample{Time: time.Now(), T1: &t1})
	assert.Equal(t, 24.5, testutil.ToFloat64(m.Temperature.WithLabelValues("vessel")))
}

func TestHandlerServesPrivateRegistry(t *testing.T) {
	m := New()
	m.PacketsReceived.Inc()
	New() // a second registry must not collide

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bioreactor_packets_received_total 1")
}
