package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config represents the kxpad configuration
type Config struct {
	Link struct {
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		RequestTimeout int    `yaml:"request_timeout"` // ms, CAT request round trip
	} `yaml:"link"`

	Serial struct {
		Device      string `yaml:"device"`
		BaudRate    int    `yaml:"baud_rate"`
		SettleDelay int    `yaml:"settle_delay"` // ms between commands on the wire
		ReadTimeout int    `yaml:"read_timeout"` // ms to wait for a response
	} `yaml:"serial"`

	Poll struct {
		Interval       int `yaml:"interval"`        // ms, backend reconciliation cadence
		DisplayRefresh int `yaml:"display_refresh"` // ms, forced surface refresh
	} `yaml:"poll"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // megabytes
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
		Compress   bool   `yaml:"compress"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if config.Link.Port == 0 {
		config.Link.Port = 4532 // rigctld
	}
	if config.Link.RequestTimeout == 0 {
		config.Link.RequestTimeout = 10000
	}
	if config.Serial.BaudRate == 0 {
		config.Serial.BaudRate = 38400 // KXPA100 default
	}
	if config.Serial.SettleDelay == 0 {
		config.Serial.SettleDelay = 20
	}
	if config.Serial.ReadTimeout == 0 {
		config.Serial.ReadTimeout = 100
	}
	if config.Poll.Interval == 0 {
		config.Poll.Interval = 200
	}
	if config.Poll.DisplayRefresh == 0 {
		config.Poll.DisplayRefresh = 500
	}
	if config.Web.Port == 0 {
		config.Web.Port = 8080
	}
	if config.Web.BindAddress == "" {
		config.Web.BindAddress = "0.0.0.0"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = 10
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 3
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = 28
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Link.Host == "" {
		return fmt.Errorf("link server host is required")
	}
	if c.Serial.Device == "" {
		return fmt.Errorf("serial device is required")
	}
	if c.Link.Port < 1 || c.Link.Port > 65535 {
		return fmt.Errorf("link port %d out of range", c.Link.Port)
	}
	if c.Poll.Interval < 50 {
		return fmt.Errorf("poll interval %dms too short", c.Poll.Interval)
	}
	return nil
}
