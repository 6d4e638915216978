package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"bioreactor-controller/internal/model"
)

// DB is the telemetry store.
type DB struct {
	db *sql.DB
}

// Record is one row of telemetry_log. Timestamp is in Unix milliseconds.
type Record struct {
	Timestamp int64    `json:"t"`
	T1        *float64 `json:"t1"`
	T2        *float64 `json:"t2"`
	L1        *int     `json:"l1"`
	L2        *int     `json:"l2"`
	OD        *float64 `json:"od"`
	Heater    int      `json:"heater"`
	Stir      int      `json:"stir"`
	Lights    int      `json:"lights"`
	Aerator   int      `json:"aerator"`
	Pump1     int      `json:"pump1"`
	Pump2     int      `json:"pump2"`
	IRLED     int      `json:"irled"`
}

// RecordFromSample flattens a sample into a row.
func RecordFromSample(s model.Sample) Record {
	return Record{
		Timestamp: s.Time.UnixMilli(),
		T1:        s.T1,
		T2:        s.T2,
		L1:        s.L1,
		L2:        s.L2,
		OD:        s.OD,
		Heater:    s.Actuators[model.Heater],
		Stir:      s.Actuators[model.Stir],
		Lights:    s.Actuators[model.Lights],
		Aerator:   s.Actuators[model.Aerator],
		Pump1:     s.Actuators[model.Pump1],
		Pump2:     s.Actuators[model.Pump2],
		IRLED:     s.Actuators[model.IRLED],
	}
}

// Open opens the database and ensures the schema exists.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// database/sql would otherwise open several connections to one file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS telemetry_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		t1 REAL,
		t2 REAL,
		l1 INTEGER,
		l2 INTEGER,
		od REAL,
		heater INTEGER,
		stir INTEGER,
		lights INTEGER,
		aerator INTEGER,
		pump1 INTEGER,
		pump2 INTEGER,
		irled INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON telemetry_log(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Checkpoint forces a WAL checkpoint and truncates the WAL file.
func (d *DB) Checkpoint() error {
	if _, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// Insert writes a record.
func (d *DB) Insert(r Record) error {
	query := `
	INSERT INTO telemetry_log (
		timestamp, t1, t2, l1, l2, od, heater, stir, lights, aerator, pump1, pump2, irled
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query,
		r.Timestamp, nullFloat(r.T1), nullFloat(r.T2), nullInt(r.L1), nullInt(r.L2), nullFloat(r.OD),
		r.Heater, r.Stir, r.Lights, r.Aerator, r.Pump1, r.Pump2, r.IRLED,
	)
	return err
}

// GetHistory returns records between start and end (Unix ms, inclusive).
func (d *DB) GetHistory(start, end int64) ([]Record, error) {
	query := `SELECT timestamp, t1, t2, l1, l2, od, heater, stir, lights, aerator, pump1, pump2, irled
	          FROM telemetry_log
	          WHERE timestamp BETWEEN ? AND ?
	          ORDER BY timestamp ASC`

	rows, err := d.db.Query(query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var (
			r          Record
			t1, t2, od sql.NullFloat64
			l1, l2     sql.NullInt64
		)
		if err := rows.Scan(
			&r.Timestamp, &t1, &t2, &l1, &l2, &od,
			&r.Heater, &r.Stir, &r.Lights, &r.Aerator, &r.Pump1, &r.Pump2, &r.IRLED,
		); err != nil {
			return nil, err
		}
		r.T1, r.T2, r.OD = floatPtr(t1), floatPtr(t2), floatPtr(od)
		r.L1, r.L2 = intPtr(l1), intPtr(l2)
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetDistinctDates returns the UTC days (YYYY-MM-DD) present in the DB, newest first.
func (d *DB) GetDistinctDates() ([]string, error) {
	query := `SELECT DISTINCT date(timestamp / 1000, 'unixepoch') as day FROM telemetry_log ORDER BY day DESC`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			continue
		}
		dates = append(dates, day)
	}
	return dates, rows.Err()
}

// Prune keeps the most recent minDays recorded days and deletes everything
// older. Days without data do not count against the limit.
func (d *DB) Prune(minDays int) (int64, error) {
	if minDays <= 0 {
		return 0, nil
	}

	dates, err := d.GetDistinctDates()
	if err != nil {
		return 0, fmt.Errorf("failed to query distinct days: %w", err)
	}
	if len(dates) <= minDays {
		return 0, nil
	}

	oldestToKeep, err := time.Parse("2006-01-02", dates[minDays-1])
	if err != nil {
		return 0, fmt.Errorf("unexpected day %q: %w", dates[minDays-1], err)
	}

	res, err := d.db.Exec(`DELETE FROM telemetry_log WHERE timestamp < ?`, oldestToKeep.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune old records: %w", err)
	}
	return res.RowsAffected()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
