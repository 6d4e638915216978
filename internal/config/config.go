package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/model"
)

// DefaultFile is used when no -config flag is given.
const DefaultFile = "bioreactor.yaml"

// Config is the process configuration. Setpoints are startup values only.
type Config struct {
	SerialPortName  string        `yaml:"serial_port"`
	BaudRate        int           `yaml:"baud_rate"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	TickReadTimeout time.Duration `yaml:"tick_read_timeout"`

	ListenAddress string `yaml:"listen_address"`
	NetworkPort   int    `yaml:"network_port"`
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`

	LogDir               string `yaml:"log_dir"`
	DatabasePath         string `yaml:"database_path"`
	HistoryRetentionDays int    `yaml:"history_retention_days"`
	MaintenanceSchedule  string `yaml:"maintenance_schedule"`

	MQTT MQTTConfig `yaml:"mqtt"`

	Reactor   Reactor         `yaml:"reactor"`
	Setpoints model.Setpoints `yaml:"setpoints"`
}

// MQTTConfig configures the optional telemetry publisher. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Reactor holds the physical and control constants.
type Reactor struct {
	ContainerVolumeL     float64       `yaml:"container_volume_l"`
	PumpFlowRateMLMin    float64       `yaml:"pump_flow_rate_ml_min"`
	TempHysteresis       float64       `yaml:"temp_hysteresis"`
	HeaterElementMaxTemp float64       `yaml:"heater_element_max_temp"`
	DilutionsPerCycle    int           `yaml:"dilutions_per_cycle"`
	PumpInterDelay       time.Duration `yaml:"pump_inter_delay"`
	AeratorOnDuration    time.Duration `yaml:"aerator_on_duration"`
	ODStirSeconds        int           `yaml:"od_stir_seconds"`
	ODSettleSeconds      int           `yaml:"od_settle_seconds"`
	TickInterval         time.Duration `yaml:"tick_interval"`
}

// DefaultReactor mirrors the bench hardware.
func DefaultReactor() Reactor {
	return Reactor{
		ContainerVolumeL:     1.0,
		PumpFlowRateMLMin:    80.0,
		TempHysteresis:       0.5,
		HeaterElementMaxTemp: 60.0,
		DilutionsPerCycle:    4,
		PumpInterDelay:       2 * time.Second,
		AeratorOnDuration:    300 * time.Second,
		ODStirSeconds:        5,
		ODSettleSeconds:      5,
		TickInterval:         100 * time.Millisecond,
	}
}

// Default returns a complete configuration.
func Default() *Config {
	return &Config{
		BaudRate:             115200,
		ReadTimeout:          2 * time.Second,
		TickReadTimeout:      50 * time.Millisecond,
		ListenAddress:        "0.0.0.0",
		NetworkPort:          5000,
		LogLevel:             "INFO",
		LogDir:               "logs",
		DatabasePath:         filepath.Join("logs", "telemetry.db"),
		HistoryRetentionDays: 30,
		MaintenanceSchedule:  "@daily",
		MQTT: MQTTConfig{
			ClientID:    "bioreactor-controller",
			TopicPrefix: "bioreactor",
		},
		Reactor:   DefaultReactor(),
		Setpoints: model.DefaultSetpoints(),
	}
}

var (
	mu         sync.RWMutex
	current    *Config
	configFile string
)

// Load reads path into the singleton. A missing file is created with defaults.
func Load(path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("Config file '%s' not found. Using default settings.", path)
			set(Default(), path)
			return Save()
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(file)
	if err != nil {
		return err
	}
	set(cfg, path)
	logger.SetLevelFromString(cfg.LogLevel)
	logger.Info("Loaded config from '%s'", path)
	return nil
}

// Parse decodes YAML on top of the defaults and fills in anything invalid.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.BaudRate <= 0 {
		logger.Warn("Configuration key 'baud_rate' invalid, using default %d.", def.BaudRate)
		c.BaudRate = def.BaudRate
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.TickReadTimeout <= 0 {
		c.TickReadTimeout = def.TickReadTimeout
	}
	if c.NetworkPort <= 0 || c.NetworkPort > 65535 {
		logger.Warn("Configuration key 'network_port' invalid, using default %d.", def.NetworkPort)
		c.NetworkPort = def.NetworkPort
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogDir == "" {
		c.LogDir = def.LogDir
	}
	if c.MaintenanceSchedule == "" {
		c.MaintenanceSchedule = def.MaintenanceSchedule
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}

	r := &c.Reactor
	if r.TickInterval <= 0 {
		r.TickInterval = def.Reactor.TickInterval
	}
	if r.PumpFlowRateMLMin <= 0 {
		logger.Warn("Configuration key 'pump_flow_rate_ml_min' must be positive, using default %.1f.", def.Reactor.PumpFlowRateMLMin)
		r.PumpFlowRateMLMin = def.Reactor.PumpFlowRateMLMin
	}
	if r.TempHysteresis < 0 {
		r.TempHysteresis = def.Reactor.TempHysteresis
	}
	if r.DilutionsPerCycle < 0 {
		r.DilutionsPerCycle = 0
	}
	if r.ODStirSeconds < 0 {
		r.ODStirSeconds = 0
	}
	if r.ODSettleSeconds < 0 {
		r.ODSettleSeconds = 0
	}
}

// Save writes the current configuration back to its file.
func Save() error {
	mu.RLock()
	cfg, path := current, configFile
	mu.RUnlock()
	if cfg == nil {
		return fmt.Errorf("cannot save nil config")
	}

	logger.Debug("Attempting to save config to file: %s", path)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	logger.Info("Successfully saved config to file '%s'", path)
	return nil
}

// Get returns the loaded configuration, or defaults if Load was never called.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return Default()
	}
	return cfg
}

// Update applies fn to the loaded configuration and saves it.
func Update(fn func(c *Config)) error {
	mu.Lock()
	if current == nil {
		current = Default()
	}
	fn(current)
	mu.Unlock()
	return Save()
}

// ListenAddr joins host and port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.NetworkPort)
}

func set(cfg *Config, path string) {
	mu.Lock()
	current = cfg
	configFile = path
	mu.Unlock()
}
