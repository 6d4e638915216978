package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// Options controls where log output goes.
type Options struct {
	// File is an optional log file path. An existing file is kept once as "<file>.old".
	File string
	// Color enables ANSI colors. Leave it off when writing to files.
	Color bool
	// Extra receives a copy of every formatted line (e.g. the live log hub).
	Extra io.Writer
}

var (
	level   = new(slog.LevelVar)
	mu      sync.RWMutex
	base    = newLogger(os.Stderr, false)
	logFile *os.File
)

func newLogger(w io.Writer, color bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !color,
	}))
}

// Setup configures the global logger. It may be called again to reconfigure.
func Setup(opts Options) error {
	writers := []io.Writer{os.Stderr}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("could not create log directory: %w", err)
		}
		old := opts.File + ".old"
		if _, err := os.Stat(opts.File); err == nil {
			os.Remove(old)
			if err := os.Rename(opts.File, old); err != nil {
				fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("could not open log file: %w", err)
		}
		writers = append(writers, f)

		mu.Lock()
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		mu.Unlock()
	}
	if opts.Extra != nil {
		writers = append(writers, opts.Extra)
	}

	l := newLogger(io.MultiWriter(writers...), opts.Color && opts.File == "" && opts.Extra == nil)
	mu.Lock()
	base = l
	mu.Unlock()
	return nil
}

// SetLevelFromString accepts DEBUG, INFO, WARN or ERROR. Anything else means INFO.
func SetLevelFromString(s string) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		level.Set(slog.LevelDebug)
	case "WARN", "WARNING":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// Level returns the active level.
func Level() slog.Level {
	return level.Level()
}

// Slog exposes the underlying structured logger for libraries that want one.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func logf(l slog.Level, format string, v ...interface{}) {
	lg := Slog()
	if !lg.Enabled(context.Background(), l) {
		return
	}
	lg.Log(context.Background(), l, fmt.Sprintf(format, v...))
}

func Debug(format string, v ...interface{}) { logf(slog.LevelDebug, format, v...) }
func Info(format string, v ...interface{})  { logf(slog.LevelInfo, format, v...) }
func Warn(format string, v ...interface{})  { logf(slog.LevelWarn, format, v...) }
func Error(format string, v ...interface{}) { logf(slog.LevelError, format, v...) }

// Fatal logs the message, closes the log file and exits the process.
func Fatal(format string, v ...interface{}) {
	logf(slog.LevelError, "FATAL: "+format, v...)
	Close()
	os.Exit(1)
}

// Close flushes and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Sync()
		logFile.Close()
		logFile = nil
	}
}
