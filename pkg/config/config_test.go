package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Server.Backlog)
	assert.Equal(t, 8000, cfg.Client.Port)
	assert.Empty(t, cfg.Admin.Address)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"netstat.yaml", "netstat.yml", "nested/netstat.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			cfg := DefaultConfig()
			cfg.Server.Port = 9100
			cfg.Server.Persistent = true
			cfg.Server.Provider = "procfs"
			cfg.Client.ReadTimeoutMs = 1500
			cfg.Admin.Address = "127.0.0.1:9090"
			require.NoError(t, cfg.SaveToFile(path))

			loaded := DefaultConfig()
			require.NoError(t, LoadFromFile(path, loaded))
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n  readTimeoutMs: 250\nlogging:\n  level: debug\n"), 0644))

	cfg := DefaultConfig()
	require.NoError(t, LoadFromFile(path, cfg))
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Server.ReadTimeoutMs)
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()

	assert.Error(t, LoadFromFile(filepath.Join(dir, "missing.yaml"), cfg))

	toml := filepath.Join(dir, "netstat.toml")
	require.NoError(t, os.WriteFile(toml, []byte("x = 1"), 0644))
	assert.Error(t, LoadFromFile(toml, cfg))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	assert.Error(t, LoadFromFile(bad, cfg))

	assert.Error(t, cfg.SaveToFile(filepath.Join(dir, "out.ini")))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NETSTAT_SERVER_ADDRESS", "0.0.0.0")
	t.Setenv("NETSTAT_SERVER_PORT", "9000")
	t.Setenv("NETSTAT_SERVER_PERSISTENT", "true")
	t.Setenv("NETSTAT_SERVER_BACKLOG", "not-a-number")
	t.Setenv("NETSTAT_CLIENT_ADDRESS", "::1")
	t.Setenv("NETSTAT_LOG_LEVEL", "warn")
	t.Setenv("NETSTAT_ADMIN_ADDRESS", ":9090")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.Persistent)
	assert.Equal(t, 1000, cfg.Server.Backlog)
	assert.Equal(t, "::1", cfg.Client.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ":9090", cfg.Admin.Address)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"server address":  func(c *Config) { c.Server.Address = "localhost" },
		"server port":     func(c *Config) { c.Server.Port = 70000 },
		"backlog":         func(c *Config) { c.Server.Backlog = 0 },
		"read timeout":    func(c *Config) { c.Server.ReadTimeoutMs = 0 },
		"provider":        func(c *Config) { c.Server.Provider = "snmp" },
		"client address":  func(c *Config) { c.Client.Address = "" },
		"client port":     func(c *Config) { c.Client.Port = 0 },
		"client timeouts": func(c *Config) { c.Client.DialTimeoutMs = -1 },
		"log level":       func(c *Config) { c.Logging.Level = "verbose" },
		"log format":      func(c *Config) { c.Logging.Format = "xml" },
		"admin address":   func(c *Config) { c.Admin.Address = "9090" },
		"report interval": func(c *Config) { c.Admin.ReportIntervalSec = -5 },
		"report format":   func(c *Config) { c.Admin.ReportFormat = "csv" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), core.ErrConfig)
		})
	}
}

func TestApplyLogging(t *testing.T) {
	original := logging.GetLevel()
	t.Cleanup(func() {
		logging.SetLevel(original)
		logging.SetOutput(os.Stderr)
	})

	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "netstat.log")
	require.NoError(t, cfg.ApplyLogging())
	assert.Equal(t, logging.DebugLevel, logging.GetLevel())

	logging.Infof("applied")
	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "applied")

	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.ApplyLogging())
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	assert.True(t, strings.HasSuffix(path, filepath.Join("netstat", "config.yaml")), path)
}
