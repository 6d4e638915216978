package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/model"
)

// Header is the first row of every daily log.
var Header = []string{"timestamp_utc", "t1", "t2", "l1", "l2", "od"}

const dateLayout = "2006-01-02"

// CSVLogger appends one row per sample to a file per local calendar day.
type CSVLogger struct {
	mu            sync.Mutex
	dir           string
	retentionDays int

	currentFile *os.File
	csvWriter   *csv.Writer
	date        string
}

// NewCSVLogger creates dir if needed.
func NewCSVLogger(dir string, retentionDays int) (*CSVLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	return &CSVLogger{dir: dir, retentionDays: retentionDays}, nil
}

// Dir returns the logs directory.
func (l *CSVLogger) Dir() string {
	return l.dir
}

// FileName returns the log file name for the day of t.
func FileName(t time.Time) string {
	return t.Local().Format(dateLayout) + ".csv"
}

// Record writes s. Errors are logged; telemetry never stops the controller.
func (l *CSVLogger) Record(s model.Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()

	date := s.Time.Local().Format(dateLayout)
	if l.csvWriter == nil || l.date != date {
		if err := l.rotate(date); err != nil {
			logger.Error("Failed to rotate telemetry log: %v", err)
			return
		}
		PruneOldFiles(l.dir, l.retentionDays)
	}

	record := []string{
		s.Time.UTC().Format("2006-01-02T15:04:05"),
		formatFloat(s.T1),
		formatFloat(s.T2),
		formatInt(s.L1),
		formatInt(s.L2),
		formatFloat(s.OD),
	}
	if err := l.csvWriter.Write(record); err != nil {
		logger.Error("Failed to write to CSV: %v", err)
		return
	}
	l.csvWriter.Flush()
	if err := l.csvWriter.Error(); err != nil {
		logger.Error("Failed to flush CSV: %v", err)
	}
}

// Close flushes and closes the current file.
func (l *CSVLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile == nil {
		return nil
	}
	l.csvWriter.Flush()
	err := l.currentFile.Close()
	l.currentFile, l.csvWriter, l.date = nil, nil, ""
	return err
}

func (l *CSVLogger) rotate(date string) error {
	if l.currentFile != nil {
		l.csvWriter.Flush()
		l.currentFile.Close()
		l.currentFile, l.csvWriter = nil, nil
	}

	filename := filepath.Join(l.dir, date+".csv")

	writeHeader := false
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", filename, err)
	}

	l.currentFile = f
	l.csvWriter = csv.NewWriter(f)
	l.date = date

	if writeHeader {
		l.csvWriter.Write(Header)
		l.csvWriter.Flush()
	}
	logger.Info("Rotated telemetry log to: %s", filename)
	return nil
}

func formatFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func formatInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
