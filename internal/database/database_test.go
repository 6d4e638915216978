package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioreactor-controller/internal/model"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ms(day, hour int) int64 {
	return time.Date(2024, 5, day, hour, 0, 0, 0, time.UTC).UnixMilli()
}

func TestInsertAndGetHistory(t *testing.T) {
	db := openTemp(t)

	t1, od, l1 := 25.5, 0.301, 950
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.Insert(RecordFromSample(model.Sample{
		Time:      ts,
		T1:        &t1,
		L1:        &l1,
		OD:        &od,
		Actuators: map[model.Actuator]int{model.Heater: 1, model.Lights: 1},
	})))
	require.NoError(t, db.Insert(Record{Timestamp: ts.Add(time.Hour).UnixMilli()}))
	require.NoError(t, db.Insert(Record{Timestamp: ts.Add(48 * time.Hour).UnixMilli()}))

	recs, err := db.GetHistory(ts.UnixMilli(), ts.Add(2*time.Hour).UnixMilli())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, ts.UnixMilli(), first.Timestamp)
	require.NotNil(t, first.T1)
	assert.Equal(t, 25.5, *first.T1)
	assert.Nil(t, first.T2)
	assert.Equal(t, 950, *first.L1)
	assert.Nil(t, first.L2)
	assert.Equal(t, 0.301, *first.OD)
	assert.Equal(t, 1, first.Heater)
	assert.Equal(t, 1, first.Lights)
	assert.Equal(t, 0, first.Pump1)

	assert.Nil(t, recs[1].T1)
}

func TestGetDistinctDates(t *testing.T) {
	db := openTemp(t)
	for _, ts := range []int64{ms(1, 3), ms(1, 20), ms(3, 8)} {
		require.NoError(t, db.Insert(Record{Timestamp: ts}))
	}

	dates, err := db.GetDistinctDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-03", "2024-05-01"}, dates)
}

func TestPruneKeepsRecordedDays(t *testing.T) {
	db := openTemp(t)
	for _, ts := range []int64{ms(1, 10), ms(2, 10), ms(2, 11), ms(5, 10), ms(9, 10)} {
		require.NoError(t, db.Insert(Record{Timestamp: ts}))
	}

	n, err := db.Prune(0)
	require.NoError(t, err)
	assert.Zero(t, n, "zero keeps everything")

	n, err = db.Prune(3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dates, err := db.GetDistinctDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-09", "2024-05-05", "2024-05-02"}, dates)

	n, err = db.Prune(5)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, db.Checkpoint())
}
