package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioreactor-controller/internal/control"
	"bioreactor-controller/internal/history"
	"bioreactor-controller/internal/metrics"
	"bioreactor-controller/internal/model"
	"bioreactor-controller/internal/sequencer"
)

type fakeController struct {
	mu         sync.Mutex
	readings   model.Readings
	overrides  map[model.Actuator]bool
	automation *control.AutomationSettings
	resumed    int
	odBusy     bool
	odTriggers int
}

func newFake() *fakeController {
	r := model.NewReadings()
	t1 := 24.5
	r.T1 = &t1
	return &fakeController{readings: r, overrides: map[model.Actuator]bool{}}
}

func (f *fakeController) Readings() model.Readings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readings.Clone()
}

func (f *fakeController) Setpoints() model.Setpoints { return model.DefaultSetpoints() }

func (f *fakeController) Overrides() map[model.Actuator]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[model.Actuator]bool{}
	for k, v := range f.overrides {
		out[k] = v
	}
	return out
}

func (f *fakeController) History() history.Snapshot {
	return history.Snapshot{T1: []history.Point{{X: 1, Y: 24.5}}}
}

func (f *fakeController) Busy() (sequencer.Kind, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.odBusy {
		return sequencer.Dilution, true
	}
	return "", false
}

func (f *fakeController) Toggle(key string) error {
	a, ok := model.ParseActuator(key)
	if !ok {
		return control.ErrUnknownActuator
	}
	f.SetManualOverride(a, 1-f.Readings().Actuators[a])
	return nil
}

func (f *fakeController) SetManualOverride(a model.Actuator, v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[a] = true
	f.readings.Actuators[a] = v
}

func (f *fakeController) SetAutomation(s control.AutomationSettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.automation = &s
}

func (f *fakeController) ResumeAutomation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed++
}

func (f *fakeController) TriggerOD() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.odBusy {
		return false
	}
	f.odTriggers++
	return true
}

func (f *fakeController) calls() (automation *control.AutomationSettings, resumed, odTriggers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.automation, f.resumed, f.odTriggers
}

func (f *fakeController) setBusy(v bool) {
	f.mu.Lock()
	f.odBusy = v
	f.mu.Unlock()
}

func newTestServer(t *testing.T, ctrl *fakeController) *httptest.Server {
	t.Helper()
	s := New(Options{Controller: ctrl, Metrics: metrics.New(), StreamInterval: 10 * time.Millisecond})
	srv := httptest.NewServer(s.Handler())
	ctx, cancel := context.WithCancel(context.Background())
	go s.StreamReadings(ctx)
	t.Cleanup(func() {
		cancel()
		s.Shutdown(context.Background())
		srv.Close()
	})
	return srv
}

var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func postForm(t *testing.T, u string, v url.Values) *http.Response {
	t.Helper()
	resp, err := noRedirect.PostForm(u, v)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestReadingsEndpoint(t *testing.T) {
	srv := newTestServer(t, newFake())

	resp, err := http.Get(srv.URL + "/api/v1/readings")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 24.5, body["t1"])
	assert.Equal(t, 0.0, body["heater"])
	assert.Equal(t, "No measurements taken yet", body["last_od_reading_ago"])
}

func TestHistoryAndSetpoints(t *testing.T) {
	srv := newTestServer(t, newFake())

	resp, err := http.Get(srv.URL + "/history")
	require.NoError(t, err)
	var snap history.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Len(t, snap.T1, 1)

	resp, err = http.Get(srv.URL + "/api/v1/setpoints")
	require.NoError(t, err)
	var sp model.Setpoints
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sp))
	resp.Body.Close()
	assert.Equal(t, 25.0, sp.Temperature)
}

func TestToggleRedirectsAndFlips(t *testing.T) {
	ctrl := newFake()
	srv := newTestServer(t, ctrl)

	resp := postForm(t, srv.URL+"/toggle/lights", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, 1, ctrl.Readings().Actuators[model.Lights])
	assert.True(t, ctrl.Overrides()[model.Lights])

	resp = postForm(t, srv.URL+"/toggle/flux_capacitor", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/toggle/lights")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOverrideEndpoint(t *testing.T) {
	ctrl := newFake()
	srv := newTestServer(t, ctrl)

	resp := postForm(t, srv.URL+"/api/v1/override/pump1", url.Values{"value": {"1"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ctrl.Readings().Actuators[model.Pump1])

	resp = postForm(t, srv.URL+"/api/v1/override/pump1", url.Values{"value": {"2"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetAutomationDecodesForm(t *testing.T) {
	ctrl := newFake()
	srv := newTestServer(t, ctrl)

	resp := postForm(t, srv.URL+"/set_automation", url.Values{
		"temperature":       {"30"},
		"light_cycle_hours": {"16"},
		"dilution_percent":  {""},
	})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	automation, _, _ := ctrl.calls()
	require.NotNil(t, automation)
	assert.Equal(t, "30", automation.Temperature)
	assert.Equal(t, "16", automation.LightCycleHours)
	assert.Equal(t, "", automation.DilutionPercent)

	resp = postForm(t, srv.URL+"/resume_automation", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, resumed, _ := ctrl.calls()
	assert.Equal(t, 1, resumed)
}

func TestTriggerODAlwaysRedirects(t *testing.T) {
	ctrl := newFake()
	srv := newTestServer(t, ctrl)

	resp := postForm(t, srv.URL+"/trigger_od", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, _, triggers := ctrl.calls()
	assert.Equal(t, 1, triggers)

	ctrl.setBusy(true)
	resp = postForm(t, srv.URL+"/trigger_od", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, _, triggers = ctrl.calls()
	assert.Equal(t, 1, triggers)
}

func TestIndexAndMetrics(t *testing.T) {
	srv := newTestServer(t, newFake())

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOptionalRoutesAbsent(t *testing.T) {
	srv := newTestServer(t, newFake())

	for _, path := range []string{"/download", "/api/v1/telemetry/range", "/ws/logs"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestReadingsStream(t *testing.T) {
	srv := newTestServer(t, newFake())

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg, &body))
	assert.Equal(t, 24.5, body["t1"])
}
