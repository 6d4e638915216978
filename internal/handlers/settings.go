package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"bioreactor-controller/internal/config"
	"bioreactor-controller/internal/logger"
)

// ServiceSettings are the service-level settings editable from the dashboard.
// Changes other than the log level take effect on the next start.
type ServiceSettings struct {
	ListenAddress        string `json:"listen_address"`
	NetworkPort          int    `json:"network_port"`
	SerialPortName       string `json:"serial_port"`
	LogLevel             string `json:"log_level"`
	HistoryRetentionDays int    `json:"history_retention_days"`
}

// SettingsResponse defines the structure for the GET /api/v1/settings response.
type SettingsResponse struct {
	Settings     ServiceSettings `json:"settings"`
	AvailableIPs []string        `json:"available_ips"`
}

func current() ServiceSettings {
	conf := config.Get()
	return ServiceSettings{
		ListenAddress:        conf.ListenAddress,
		NetworkPort:          conf.NetworkPort,
		SerialPortName:       conf.SerialPortName,
		LogLevel:             conf.LogLevel,
		HistoryRetentionDays: conf.HistoryRetentionDays,
	}
}

// HandleGetSettings provides the current service settings and available IP addresses.
func HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	ips, err := getAvailableIPs()
	if err != nil {
		logger.Error("Failed to get available IP addresses: %v", err)
		http.Error(w, "Failed to get IP addresses", http.StatusInternalServerError)
		return
	}

	response := SettingsResponse{
		Settings:     current(),
		AvailableIPs: ips,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandlePostSettings validates and saves the service settings.
func HandlePostSettings(w http.ResponseWriter, r *http.Request) {
	var s ServiceSettings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if s.NetworkPort <= 0 || s.NetworkPort > 65535 {
		http.Error(w, "Invalid Network Port", http.StatusBadRequest)
		return
	}
	if net.ParseIP(s.ListenAddress) == nil {
		http.Error(w, "Invalid Listen Address", http.StatusBadRequest)
		return
	}
	if s.HistoryRetentionDays < 0 {
		http.Error(w, "Invalid History Retention", http.StatusBadRequest)
		return
	}
	switch strings.ToUpper(s.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		http.Error(w, "Invalid Log Level", http.StatusBadRequest)
		return
	}

	err := config.Update(func(c *config.Config) {
		c.ListenAddress = s.ListenAddress
		c.NetworkPort = s.NetworkPort
		c.SerialPortName = s.SerialPortName
		c.LogLevel = strings.ToUpper(s.LogLevel)
		c.HistoryRetentionDays = s.HistoryRetentionDays
	})
	if err != nil {
		logger.Error("Failed to save config: %v", err)
		http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
		return
	}

	// Apply log level immediately
	logger.SetLevelFromString(s.LogLevel)

	logger.Info("Service settings updated via API.")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(current())
}

// getAvailableIPs returns a list of local IPv4 addresses.
func getAvailableIPs() ([]string, error) {
	ips := []string{"127.0.0.1", "0.0.0.0"}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP.String())
			}
		}
	}
	return ips, nil
}
