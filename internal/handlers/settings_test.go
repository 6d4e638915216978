package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioreactor-controller/internal/config"
)

func TestGetSettings(t *testing.T) {
	require.NoError(t, config.Load(filepath.Join(t.TempDir(), "bioreactor.yaml")))

	rec := httptest.NewRecorder()
	HandleGetSettings(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5000, resp.Settings.NetworkPort)
	assert.Contains(t, resp.AvailableIPs, "127.0.0.1")
}

func TestPostSettings(t *testing.T) {
	require.NoError(t, config.Load(filepath.Join(t.TempDir(), "bioreactor.yaml")))

	body := `{"listen_address":"127.0.0.1","network_port":8080,"serial_port":"/dev/ttyUSB0","log_level":"warn","history_retention_days":7}`
	rec := httptest.NewRecorder()
	HandlePostSettings(rec, httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	conf := config.Get()
	assert.Equal(t, 8080, conf.NetworkPort)
	assert.Equal(t, "/dev/ttyUSB0", conf.SerialPortName)
	assert.Equal(t, "WARN", conf.LogLevel)
	assert.Equal(t, 7, conf.HistoryRetentionDays)
}

func TestPostSettingsValidation(t *testing.T) {
	require.NoError(t, config.Load(filepath.Join(t.TempDir(), "bioreactor.yaml")))

	for name, body := range map[string]string{
		"port":      `{"listen_address":"0.0.0.0","network_port":0,"log_level":"INFO"}`,
		"address":   `{"listen_address":"nowhere","network_port":5000,"log_level":"INFO"}`,
		"level":     `{"listen_address":"0.0.0.0","network_port":5000,"log_level":"LOUD"}`,
		"retention": `{"listen_address":"0.0.0.0","network_port":5000,"log_level":"INFO","history_retention_days":-1}`,
		"json":      `{`,
	} {
		rec := httptest.NewRecorder()
		HandlePostSettings(rec, httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Equal(t, 5000, config.Get().NetworkPort)
}
