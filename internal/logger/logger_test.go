package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLevelsAndExtraWriter(t *testing.T) {
	var extra syncBuffer
	require.NoError(t, Setup(Options{Extra: &extra}))
	t.Cleanup(func() { Setup(Options{}) })

	SetLevelFromString("warn")
	assert.Equal(t, slog.LevelWarn, Level())

	Info("hidden %d", 1)
	Warn("heater cut at %.1f°C", 60.0)
	out := extra.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "heater cut at 60.0°C")
	assert.Contains(t, out, "WRN")

	SetLevelFromString("bogus")
	assert.Equal(t, slog.LevelInfo, Level())
	SetLevelFromString("DEBUG")
	Debug("now visible")
	assert.Contains(t, extra.String(), "now visible")
	SetLevelFromString("INFO")
}

func TestLogFileRotatedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "controller.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0644))

	require.NoError(t, Setup(Options{File: path}))
	Error("link failed")
	Close()
	t.Cleanup(func() { Setup(Options{}) })

	old, err := os.ReadFile(path + ".old")
	require.NoError(t, err)
	assert.Equal(t, "previous run\n", string(old))

	cur, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(cur), "link failed")
}
