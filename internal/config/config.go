package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/battlewithbytes/modstore/internal/logging"
)

// Config represents the full application configuration written to config.yml.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Backend   BackendConfig   `yaml:"backend"`
	Downloads DownloadsConfig `yaml:"downloads"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

type ServiceConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// Addr returns the host:port the API listens on.
func (s ServiceConfig) Addr() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.Port))
}

// BackendConfig locates the privileged Installer Backend.
type BackendConfig struct {
	SocketPath     string        `yaml:"socket_path"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DownloadsConfig struct {
	FailureRetention time.Duration `yaml:"failure_retention"`
	CancelRetention  time.Duration `yaml:"cancel_retention"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Limit   int    `yaml:"limit"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	Path       string `yaml:"path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// Logging converts the log section for the logging package.
func (l LogConfig) Logging() logging.Conf {
	return logging.Conf{
		Level:      l.Level,
		Output:     l.Output,
		Path:       l.Path,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

// Default returns a valid configuration with every field at its default.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BindAddress: DefaultBindAddress,
			Port:        DefaultPort,
		},
		Backend: BackendConfig{
			SocketPath:     DefaultSocketPath,
			ReconnectDelay: DefaultReconnectDelay,
			RequestTimeout: DefaultRequestTimeout,
		},
		Downloads: DownloadsConfig{
			FailureRetention: DefaultFailureRetention,
			CancelRetention:  DefaultCancelRetention,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    DefaultHistoryPath,
			Limit:   DefaultHistoryLimit,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Output:     DefaultLogOutput,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSize,
			MaxBackups: DefaultLogBackups,
			MaxAgeDays: DefaultLogMaxAge,
		},
	}
}

// Load reads and parses a config file from the given path. Keys missing
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks that all required fields are present and values are in range.
func (c *Config) Validate() error {
	// Service
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port must be between 1 and 65535")
	}
	if c.Service.BindAddress == "" {
		return fmt.Errorf("service.bind_address is required")
	}

	// Backend
	if c.Backend.SocketPath == "" {
		return fmt.Errorf("backend.socket_path is required")
	}
	if c.Backend.ReconnectDelay <= 0 {
		return fmt.Errorf("backend.reconnect_delay must be positive")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be positive")
	}

	// Retention
	if c.Downloads.FailureRetention <= 0 {
		return fmt.Errorf("downloads.failure_retention must be positive")
	}
	if c.Downloads.CancelRetention <= 0 {
		return fmt.Errorf("downloads.cancel_retention must be positive")
	}

	// History
	if c.History.Enabled {
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required when history is enabled")
		}
		if c.History.Limit < 1 {
			return fmt.Errorf("history.limit must be >= 1")
		}
	}

	// Log
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch c.Log.Output {
	case logging.OutputStdout, logging.OutputStderr:
		// ok
	case logging.OutputFile:
		if c.Log.Path == "" {
			return fmt.Errorf("log.path is required when log.output is %q", logging.OutputFile)
		}
	default:
		return fmt.Errorf("log.output must be %q, %q, or %q", logging.OutputStdout, logging.OutputStderr, logging.OutputFile)
	}

	return nil
}

// Save writes the config to the given path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}
