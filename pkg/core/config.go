package core

import "time"

// Defaults shared by the server, the client and the CLIs.
const (
	DefaultAddress       = "127.0.0.1"
	DefaultPort          = 8000
	DefaultBacklog       = 1000
	DefaultReadTimeoutMs = 10000
	DefaultDialTimeoutMs = 5000
	DefaultProvider      = "ledger"
)

// ServerConfig contains configuration for the statistics server.
type ServerConfig struct {
	// Address is the IP literal to listen on.
	Address string `json:"address" yaml:"address"`

	// Port is the TCP port to listen on. 0 selects an ephemeral port.
	Port int `json:"port" yaml:"port"`

	// Backlog caps the number of concurrent client connections: accepted
	// connections count against it until they are closed, including while
	// being served. Further clients wait in the kernel accept queue.
	Backlog int `json:"backlog" yaml:"backlog"`

	// ReadTimeoutMs bounds how long a connection may wait for a request.
	ReadTimeoutMs int `json:"read_timeout_ms" yaml:"readTimeoutMs"`

	// WriteTimeoutMs bounds a single response write. 0 disables the bound.
	WriteTimeoutMs int `json:"write_timeout_ms" yaml:"writeTimeoutMs"`

	// Persistent keeps a connection open for further requests after the
	// first response instead of closing it.
	Persistent bool `json:"persistent" yaml:"persistent"`

	// Provider selects the statistics provider ("ledger" or "procfs").
	Provider string `json:"provider" yaml:"provider"`
}

// ReadTimeout returns ReadTimeoutMs as a duration.
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// WriteTimeout returns WriteTimeoutMs as a duration.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// DefaultServerConfig returns a server configuration with default values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       DefaultAddress,
		Port:          DefaultPort,
		Backlog:       DefaultBacklog,
		ReadTimeoutMs: DefaultReadTimeoutMs,
		Provider:      DefaultProvider,
	}
}

// ClientConfig contains configuration for the statistics client.
type ClientConfig struct {
	// Address is the server IP literal to connect to.
	Address string `json:"address" yaml:"address"`

	// Port is the server TCP port.
	Port int `json:"port" yaml:"port"`

	// DialTimeoutMs bounds connection setup.
	DialTimeoutMs int `json:"dial_timeout_ms" yaml:"dialTimeoutMs"`

	// ReadTimeoutMs bounds how long the client waits for a response.
	ReadTimeoutMs int `json:"read_timeout_ms" yaml:"readTimeoutMs"`

	// WriteTimeoutMs bounds a single request write. 0 disables the bound.
	WriteTimeoutMs int `json:"write_timeout_ms" yaml:"writeTimeoutMs"`
}

// DialTimeout returns DialTimeoutMs as a duration.
func (c ClientConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

// ReadTimeout returns ReadTimeoutMs as a duration.
func (c ClientConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// WriteTimeout returns WriteTimeoutMs as a duration.
func (c ClientConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// DefaultClientConfig returns a client configuration with default values.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:       DefaultAddress,
		Port:          DefaultPort,
		DialTimeoutMs: DefaultDialTimeoutMs,
		ReadTimeoutMs: DefaultReadTimeoutMs,
	}
}
