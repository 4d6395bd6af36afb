// Package config provides configuration handling for the netstat server
// and client.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
	"github.com/irctrakz/netstat/pkg/stats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "NETSTAT_"

// Config represents the complete configuration.
type Config struct {
	// Server contains the statistics server configuration.
	Server core.ServerConfig `json:"server" yaml:"server"`

	// Client contains the client configuration.
	Client core.ClientConfig `json:"client" yaml:"client"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Admin contains the operator HTTP surface configuration.
	Admin AdminConfig `json:"admin" yaml:"admin"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// Format is the log format (text, json).
	Format string `json:"format" yaml:"format"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// AdminConfig contains configuration for the admin HTTP endpoint and the
// periodic metrics report.
type AdminConfig struct {
	// Address is the host:port of the admin HTTP server. Empty disables it.
	Address string `json:"address" yaml:"address"`

	// ReportIntervalSec is the period of the metrics log report. 0 disables it.
	ReportIntervalSec int `json:"reportIntervalSec" yaml:"reportIntervalSec"`

	// ReportFormat is the report format (text, json).
	ReportFormat string `json:"reportFormat" yaml:"reportFormat"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: core.DefaultServerConfig(),
		Client: core.DefaultClientConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Admin: AdminConfig{
			ReportFormat: "text",
		},
	}
}

// DefaultPath returns the configuration file used when none is given: an
// existing netstat/config.yaml in the XDG config directories, otherwise the
// location one would be created at under XDG_CONFIG_HOME.
func DefaultPath() string {
	rel := filepath.Join("netstat", "config.yaml")
	if path, err := xdg.SearchConfigFile(rel); err == nil {
		return path
	}
	return filepath.Join(xdg.ConfigHome, rel)
}

// LoadFromFile loads configuration from a file.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Determine file format based on extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

func envString(name string, dst *string) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			*dst = b
		}
	}
}

// LoadFromEnv overrides configuration from NETSTAT_* environment variables.
// Unparsable numeric and boolean values are ignored.
func LoadFromEnv(config *Config) {
	// Server config
	envString("SERVER_ADDRESS", &config.Server.Address)
	envInt("SERVER_PORT", &config.Server.Port)
	envInt("SERVER_BACKLOG", &config.Server.Backlog)
	envInt("SERVER_READ_TIMEOUT_MS", &config.Server.ReadTimeoutMs)
	envInt("SERVER_WRITE_TIMEOUT_MS", &config.Server.WriteTimeoutMs)
	envBool("SERVER_PERSISTENT", &config.Server.Persistent)
	envString("SERVER_PROVIDER", &config.Server.Provider)

	// Client config
	envString("CLIENT_ADDRESS", &config.Client.Address)
	envInt("CLIENT_PORT", &config.Client.Port)
	envInt("CLIENT_DIAL_TIMEOUT_MS", &config.Client.DialTimeoutMs)
	envInt("CLIENT_READ_TIMEOUT_MS", &config.Client.ReadTimeoutMs)
	envInt("CLIENT_WRITE_TIMEOUT_MS", &config.Client.WriteTimeoutMs)

	// Logging config
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_FILE", &config.Logging.File)
	envInt("LOG_MAX_SIZE", &config.Logging.MaxSize)
	envInt("LOG_MAX_BACKUPS", &config.Logging.MaxBackups)
	envInt("LOG_MAX_AGE", &config.Logging.MaxAge)

	// Admin config
	envString("ADMIN_ADDRESS", &config.Admin.Address)
	envInt("ADMIN_REPORT_INTERVAL_SEC", &config.Admin.ReportIntervalSec)
	envString("ADMIN_REPORT_FORMAT", &config.Admin.ReportFormat)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", core.ErrConfig, fmt.Sprintf(format, args...))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate Server config
	if _, err := netip.ParseAddr(c.Server.Address); err != nil {
		return invalid("invalid server address: %q", c.Server.Address)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Backlog <= 0 {
		return invalid("invalid server backlog: %d", c.Server.Backlog)
	}
	if c.Server.ReadTimeoutMs <= 0 {
		return invalid("invalid server read timeout: %dms", c.Server.ReadTimeoutMs)
	}
	if c.Server.WriteTimeoutMs < 0 {
		return invalid("invalid server write timeout: %dms", c.Server.WriteTimeoutMs)
	}
	switch strings.ToLower(c.Server.Provider) {
	case stats.ProviderLedger, stats.ProviderProcfs:
	default:
		return invalid("invalid stats provider: %q", c.Server.Provider)
	}

	// Validate Client config
	if _, err := netip.ParseAddr(c.Client.Address); err != nil {
		return invalid("invalid client address: %q", c.Client.Address)
	}
	if c.Client.Port <= 0 || c.Client.Port > 65535 {
		return invalid("invalid client port: %d", c.Client.Port)
	}
	if c.Client.DialTimeoutMs < 0 || c.Client.ReadTimeoutMs < 0 || c.Client.WriteTimeoutMs < 0 {
		return invalid("client timeouts cannot be negative")
	}

	// Validate Logging config
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("invalid logging level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return invalid("invalid logging format: %s", c.Logging.Format)
	}

	// Validate Admin config
	if c.Admin.Address != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Address); err != nil {
			return invalid("invalid admin address: %q", c.Admin.Address)
		}
	}
	if c.Admin.ReportIntervalSec < 0 {
		return invalid("invalid report interval: %ds", c.Admin.ReportIntervalSec)
	}
	switch c.Admin.ReportFormat {
	case "", "text", "json":
	default:
		return invalid("invalid report format: %s", c.Admin.ReportFormat)
	}

	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	logging.SetLevel(level)

	if err := logging.SetFormat(c.Logging.Format); err != nil {
		return err
	}

	// Enable file logging if configured
	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			c.Logging.File,
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

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	// Determine file format based on extension
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
