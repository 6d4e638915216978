package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioreactor-controller/internal/database"
	"bioreactor-controller/internal/model"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func TestCSVLoggerWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewCSVLogger(dir, 0)
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 30, 15, 0, time.Local)
	l.Record(model.Sample{Time: ts, T1: fp(25.5), T2: fp(30)})
	l.Record(model.Sample{Time: ts.Add(time.Second), T1: fp(25.4), L1: ip(950), L2: ip(475), OD: fp(0.301)})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName(ts)))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp_utc,t1,t2,l1,l2,od", lines[0])
	assert.Equal(t, ts.UTC().Format("2006-01-02T15:04:05")+",25.5,30,,,", lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",25.4,,950,475,0.301"), lines[2])
}

func TestCSVLoggerAppendsWithoutSecondHeader(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

	for i := 0; i < 2; i++ {
		l, err := NewCSVLogger(dir, 0)
		require.NoError(t, err)
		l.Record(model.Sample{Time: ts, T1: fp(20)})
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName(ts)))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp_utc"))
}

func TestCSVLoggerRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	l, err := NewCSVLogger(dir, 2)
	require.NoError(t, err)
	defer l.Close()

	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	for i := 0; i < 4; i++ {
		l.Record(model.Sample{Time: day.AddDate(0, 0, i), T1: fp(20)})
	}

	files, err := logFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-03.csv", "2024-05-04.csv"}, files)
}

func TestPruneOldFilesIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2024-01-01.csv", "2024-01-02.csv", "2024-01-03.csv", "notes.csv", "controller.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	PruneOldFiles(dir, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"2024-01-03.csv", "notes.csv", "controller.log"}, names)
}

func TestHandleDownloadCSV(t *testing.T) {
	dir := t.TempDir()
	l, err := NewCSVLogger(dir, 0)
	require.NoError(t, err)
	defer l.Close()
	l.Record(model.Sample{Time: time.Now(), T1: fp(22)})

	rec := httptest.NewRecorder()
	l.HandleDownloadCSV(rec, httptest.NewRequest(http.MethodGet, "/download", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), FileName(time.Now()))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "timestamp_utc,t1,t2,l1,l2,od\n"))

	rec = httptest.NewRecorder()
	l.HandleDownloadCSV(rec, httptest.NewRequest(http.MethodGet, "/download?date=1999-01-01", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	l.HandleDownloadCSV(rec, httptest.NewRequest(http.MethodGet, "/download?date=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetHistoryAndDates(t *testing.T) {
	dir := t.TempDir()
	l, err := NewCSVLogger(dir, 0)
	require.NoError(t, err)
	defer l.Close()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	l.Record(model.Sample{Time: ts, T1: fp(22), OD: fp(0.5)})
	l.Record(model.Sample{Time: ts.AddDate(0, 0, 1), T1: fp(23)})

	date := ts.Format("2006-01-02")
	rec := httptest.NewRecorder()
	l.HandleGetHistory(rec, httptest.NewRequest(http.MethodGet, "/history?date="+date, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var points []DataPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, ts.Truncate(time.Second).UnixMilli(), points[0].Timestamp)
	assert.Equal(t, 22.0, *points[0].T1)
	assert.Nil(t, points[0].T2)
	assert.Equal(t, 0.5, *points[0].OD)

	rec = httptest.NewRecorder()
	l.HandleGetLogDates(rec, httptest.NewRequest(http.MethodGet, "/dates", nil))
	var dates []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dates))
	assert.Equal(t, []string{ts.AddDate(0, 0, 1).Format("2006-01-02"), date}, dates)
}

func TestDBRecorderAndRange(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer db.Close()

	r := NewDBRecorder(db, 30)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.Record(model.Sample{Time: ts, T1: fp(24.5), Actuators: map[model.Actuator]int{model.Stir: 1}})

	rec := httptest.NewRecorder()
	url := "/range?start=" + strconv.FormatInt(ts.Add(-time.Minute).UnixMilli(), 10) + "&end=" + strconv.FormatInt(ts.Add(time.Minute).UnixMilli(), 10)
	HandleGetRange(db)(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []database.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 24.5, *rows[0].T1)
	assert.Equal(t, 1, rows[0].Stir)

	rec = httptest.NewRecorder()
	HandleGetRange(db)(rec, httptest.NewRequest(http.MethodGet, "/range?start=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaintenance(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2024-01-01.csv", "2024-01-02.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	_, err := StartMaintenance("not a schedule", dir, nil, 1)
	assert.Error(t, err)

	m, err := StartMaintenance("@daily", dir, nil, 1)
	require.NoError(t, err)
	defer m.Stop()

	m.Run()
	files, err := logFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02.csv"}, files)
}
