package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Service.Port = 0 }},
		{"port too large", func(c *Config) { c.Service.Port = 70000 }},
		{"missing bind address", func(c *Config) { c.Service.BindAddress = "" }},
		{"missing socket", func(c *Config) { c.Backend.SocketPath = "" }},
		{"zero reconnect delay", func(c *Config) { c.Backend.ReconnectDelay = 0 }},
		{"zero request timeout", func(c *Config) { c.Backend.RequestTimeout = 0 }},
		{"zero failure retention", func(c *Config) { c.Downloads.FailureRetention = 0 }},
		{"negative cancel retention", func(c *Config) { c.Downloads.CancelRetention = -time.Second }},
		{"history limit zero", func(c *Config) { c.History.Limit = 0 }},
		{"history without path", func(c *Config) { c.History.Path = "" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"unknown log output", func(c *Config) { c.Log.Output = "syslog" }},
		{"file output without path", func(c *Config) {
			c.Log.Output = "file"
			c.Log.Path = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDisabledHistoryIgnoresFields(t *testing.T) {
	cfg := Default()
	cfg.History.Enabled = false
	cfg.History.Path = ""
	cfg.History.Limit = 0
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.yml")

	cfg := Default()
	cfg.Service.Port = 9000
	cfg.Downloads.FailureRetention = 30 * time.Second
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, loaded.Service.Port)
	assert.Equal(t, 30*time.Second, loaded.Downloads.FailureRetention)
	assert.Equal(t, DefaultReconnectDelay, loaded.Backend.ReconnectDelay)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := []byte("service:\n  port: 9100\ndownloads:\n  cancel_retention: 500ms\n")
	require.NoError(t, os.WriteFile(path, data, 0640))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Service.Port)
	assert.Equal(t, DefaultBindAddress, cfg.Service.BindAddress)
	assert.Equal(t, 500*time.Millisecond, cfg.Downloads.CancelRetention)
	assert.Equal(t, DefaultFailureRetention, cfg.Downloads.FailureRetention)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")

	require.NoError(t, os.WriteFile(path, []byte("service:\n  port: 0\n"), 0640))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("service: [\n"), 0640))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Service.Port)
}

func TestServiceAddr(t *testing.T) {
	s := ServiceConfig{BindAddress: "127.0.0.1", Port: 8089}
	assert.Equal(t, "127.0.0.1:8089", s.Addr())
}

func TestAnswersApply(t *testing.T) {
	cfg := Default()
	a := AnswersFrom(cfg)
	a.PortStr = " 9200 "
	a.SocketPath = "/tmp/backend.sock"
	a.HistoryEnabled = false
	a.LogLevel = "debug"

	require.NoError(t, a.Apply(cfg))
	assert.Equal(t, 9200, cfg.Service.Port)
	assert.Equal(t, "/tmp/backend.sock", cfg.Backend.SocketPath)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)

	a.PortStr = "http"
	assert.Error(t, a.Apply(cfg))
}

func TestValidatePort(t *testing.T) {
	for _, ok := range []string{"1", "8089", " 65535 "} {
		assert.NoError(t, ValidatePort(ok), ok)
	}
	for _, bad := range []string{"", "0", "65536", "abc"} {
		assert.Error(t, ValidatePort(bad), bad)
	}
}
