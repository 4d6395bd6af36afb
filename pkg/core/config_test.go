package core

import (
	"testing"
	"time"
)

// TestServerConfigDefaults tests the default server configuration.
func TestServerConfigDefaults(t *testing.T) {
	config := DefaultServerConfig()

	if config.Address != "127.0.0.1" {
		t.Errorf("Expected Address to be '127.0.0.1', got '%s'", config.Address)
	}

	if config.Port != 8000 {
		t.Errorf("Expected Port to be 8000, got %d", config.Port)
	}

	if config.Backlog != 1000 {
		t.Errorf("Expected Backlog to be 1000, got %d", config.Backlog)
	}

	if config.ReadTimeout() != 10*time.Second {
		t.Errorf("Expected ReadTimeout to be 10s, got %v", config.ReadTimeout())
	}

	if config.Persistent {
		t.Errorf("Expected Persistent to be false")
	}

	if config.Provider != "ledger" {
		t.Errorf("Expected Provider to be 'ledger', got '%s'", config.Provider)
	}
}

// TestClientConfigDefaults tests the default client configuration.
func TestClientConfigDefaults(t *testing.T) {
	config := DefaultClientConfig()

	if config.DialTimeout() != 5*time.Second {
		t.Errorf("Expected DialTimeout to be 5s, got %v", config.DialTimeout())
	}

	if config.WriteTimeout() != 0 {
		t.Errorf("Expected WriteTimeout to be disabled, got %v", config.WriteTimeout())
	}

	config.ReadTimeoutMs = 250
	if config.ReadTimeout() != 250*time.Millisecond {
		t.Errorf("Expected ReadTimeout to be 250ms, got %v", config.ReadTimeout())
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[string]string{
		ConnOpen.String():            "Open",
		ConnClosed.String():          "Closed",
		ServerListening.String():     "Listening",
		SessionDisconnected.String(): "Disconnected",
		SessionState(9).String():     "SessionState(9)",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
