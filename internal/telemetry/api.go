package telemetry

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"bioreactor-controller/internal/database"
	"bioreactor-controller/internal/logger"
)

// DataPoint is one parsed CSV row.
type DataPoint struct {
	Timestamp int64    `json:"t"`
	T1        *float64 `json:"t1"`
	T2        *float64 `json:"t2"`
	L1        *int     `json:"l1"`
	L2        *int     `json:"l2"`
	OD        *float64 `json:"od"`
}

// HandleGetHistory returns the rows of one daily log as JSON. The "date"
// query parameter (YYYY-MM-DD) selects the day; it defaults to today.
func (l *CSVLogger) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	filename, ok := l.requestedFile(w, r)
	if !ok {
		return
	}

	file, err := os.Open(filepath.Join(l.dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "Log file not found for this date", http.StatusNotFound)
		} else {
			http.Error(w, "Failed to open log file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	history := []DataPoint{}
	reader := csv.NewReader(file)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if dp, err := parseRecord(record); err == nil {
			history = append(history, dp)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// HandleGetLogDates returns the available log dates, newest first.
func (l *CSVLogger) HandleGetLogDates(w http.ResponseWriter, r *http.Request) {
	files, err := logFiles(l.dir)
	if err != nil {
		http.Error(w, "Failed to list log directory", http.StatusInternalServerError)
		return
	}

	dates := make([]string, 0, len(files))
	for _, name := range files {
		dates = append(dates, name[:len(dateLayout)])
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dates)
}

// HandleDownloadCSV serves a raw daily log. "date" defaults to today.
func (l *CSVLogger) HandleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	filename, ok := l.requestedFile(w, r)
	if !ok {
		return
	}

	// The file may be appended to concurrently; hold the writer lock while copying.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.csvWriter != nil {
		l.csvWriter.Flush()
	}

	file, err := os.Open(filepath.Join(l.dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "Log file not found for this date", http.StatusNotFound)
		} else {
			http.Error(w, "Failed to open log file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := io.Copy(w, file); err != nil {
		logger.Warn("CSV download of %s interrupted: %v", filename, err)
	}
}

func (l *CSVLogger) requestedFile(w http.ResponseWriter, r *http.Request) (string, bool) {
	dateParam := r.URL.Query().Get("date")
	if dateParam == "" {
		return FileName(time.Now()), true
	}
	if _, err := time.Parse(dateLayout, dateParam); err != nil {
		http.Error(w, "Invalid date format. Use YYYY-MM-DD.", http.StatusBadRequest)
		return "", false
	}
	return dateParam + ".csv", true
}

func parseRecord(record []string) (DataPoint, error) {
	if len(record) < len(Header) {
		return DataPoint{}, fmt.Errorf("invalid record length")
	}

	ts, err := time.Parse("2006-01-02T15:04:05", record[0])
	if err != nil {
		return DataPoint{}, err
	}

	pf := func(s string) *float64 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &v
	}
	pi := func(s string) *int {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		return &v
	}

	return DataPoint{
		Timestamp: ts.UnixMilli(),
		T1:        pf(record[1]),
		T2:        pf(record[2]),
		L1:        pi(record[3]),
		L2:        pi(record[4]),
		OD:        pf(record[5]),
	}, nil
}

// HandleGetRange returns database rows between the "start" and "end" query
// parameters (Unix ms). The range defaults to the last 24 hours.
func HandleGetRange(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		start, err := msParam(r, "start", now.Add(-24*time.Hour).UnixMilli())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		end, err := msParam(r, "end", now.UnixMilli())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		records, err := db.GetHistory(start, end)
		if err != nil {
			logger.Error("Telemetry range query failed: %v", err)
			http.Error(w, "Failed to query telemetry", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []database.Record{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func msParam(r *http.Request, key string, def int64) (int64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: expected Unix milliseconds", key)
	}
	return v, nil
}
