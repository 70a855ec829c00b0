// Package config provides configuration handling for the PMTUD daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pmtud/pkg/logging"
)

// Default rate limits, in packets per second.
const (
	DefaultSrcRatePPS   = 1.0
	DefaultIfaceRatePPS = 10.0
)

// Config represents the complete daemon configuration.
type Config struct {
	// Iface is the network interface to capture and inject on. Required.
	Iface string `json:"iface" yaml:"iface"`

	// SrcRate is the per-source rate limit in packets per second.
	SrcRate float64 `json:"srcRate" yaml:"srcRate"`

	// IfaceRate is the aggregate per-interface rate limit in packets per second.
	IfaceRate float64 `json:"ifaceRate" yaml:"ifaceRate"`

	// Verbose controls the packet log: 0 silent, 1 accepts, 2 accepts and
	// rejects, 3 and above adds a hex dump of the frame.
	Verbose int `json:"verbose" yaml:"verbose"`

	// DryRun parses and rate-limits but never injects.
	DryRun bool `json:"dryRun" yaml:"dryRun"`

	// CPU pins the process to a core when >= 0. Best effort.
	CPU int `json:"cpu" yaml:"cpu"`

	// Ports restricts forwarding to frames whose inner L4 source port is on
	// this list. Empty disables the check.
	Ports []int `json:"ports" yaml:"ports"`

	// Promiscuous enables promiscuous capture on the interface.
	Promiscuous bool `json:"promiscuous" yaml:"promiscuous"`

	// StatsInterval, when nonzero, dumps relay and capture counters to the
	// diagnostic log on this period.
	StatsInterval time.Duration `json:"statsInterval" yaml:"statsInterval"`

	// Logging contains the diagnostic logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// LoggingConfig contains configuration for diagnostic logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path. Empty logs to stderr only.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SrcRate:   DefaultSrcRatePPS,
		IfaceRate: DefaultIfaceRatePPS,
		CPU:       -1,
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(config *Config) error {
	if val := os.Getenv("PMTUD_IFACE"); val != "" {
		config.Iface = val
	}
	if val := os.Getenv("PMTUD_SRC_RATE"); val != "" {
		rate, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid PMTUD_SRC_RATE: %w", err)
		}
		config.SrcRate = rate
	}
	if val := os.Getenv("PMTUD_IFACE_RATE"); val != "" {
		rate, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid PMTUD_IFACE_RATE: %w", err)
		}
		config.IfaceRate = rate
	}
	if val := os.Getenv("PMTUD_VERBOSE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid PMTUD_VERBOSE: %w", err)
		}
		config.Verbose = n
	}
	if val := os.Getenv("PMTUD_DRY_RUN"); val != "" {
		config.DryRun = val == "true" || val == "1"
	}
	if val := os.Getenv("PMTUD_CPU"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid PMTUD_CPU: %w", err)
		}
		config.CPU = n
	}
	if val := os.Getenv("PMTUD_PORTS"); val != "" {
		ports, err := ParsePorts(val)
		if err != nil {
			return err
		}
		config.Ports = ports
	}
	if val := os.Getenv("PMTUD_PROMISC"); val != "" {
		config.Promiscuous = val == "true" || val == "1"
	}
	if val := os.Getenv("PMTUD_STATS_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid PMTUD_STATS_INTERVAL: %w", err)
		}
		config.StatsInterval = d
	}
	if val := os.Getenv("PMTUD_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("PMTUD_LOG_FILE"); val != "" {
		config.Logging.File = val
	}
	return nil
}

// ParsePorts parses a comma-separated port list.
func ParsePorts(csv string) ([]int, error) {
	var ports []int
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, fmt.Errorf("malformed port number value %q", field)
		}
		port, err := strconv.Atoi(field)
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("malformed port number value %q", field)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Iface == "" {
		return fmt.Errorf("network interface not specified")
	}
	if c.SrcRate <= 0 || c.IfaceRate <= 0 {
		return fmt.Errorf("rates must be greater than zero")
	}
	for _, port := range c.Ports {
		if port < 0 || port > 65535 {
			return fmt.Errorf("port %d out of range", port)
		}
	}
	if c.Verbose < 0 {
		return fmt.Errorf("verbosity cannot be negative")
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("stats interval cannot be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	var level logging.Level
	switch c.Logging.Level {
	case "debug":
		level = logging.DebugLevel
	case "info":
		level = logging.InfoLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	default:
		level = logging.InfoLevel
	}
	logging.SetLevel(level)

	if c.Logging.File != "" {
		dir := "."
		filename := c.Logging.File
		if lastSlash := strings.LastIndex(c.Logging.File, "/"); lastSlash != -1 {
			dir = c.Logging.File[:lastSlash]
			filename = c.Logging.File[lastSlash+1:]
		}

		err := logging.EnableFileLogging(
			dir,
			filename,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}
