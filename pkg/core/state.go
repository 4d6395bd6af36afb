package core

import "fmt"

// ConnState is the lifecycle state of a single connection.
type ConnState uint32

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnOpen
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "Idle"
	case ConnConnecting:
		return "Connecting"
	case ConnOpen:
		return "Open"
	case ConnClosing:
		return "Closing"
	case ConnClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ConnState(%d)", uint32(s))
	}
}

// ServerState is the state of the server listener.
type ServerState uint32

const (
	ServerStopped ServerState = iota
	ServerListening
)

func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "Stopped"
	case ServerListening:
		return "Listening"
	default:
		return fmt.Sprintf("ServerState(%d)", uint32(s))
	}
}

// SessionState is the state of the client session controller.
type SessionState uint32

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "Disconnected"
	case SessionConnecting:
		return "Connecting"
	case SessionConnected:
		return "Connected"
	default:
		return fmt.Sprintf("SessionState(%d)", uint32(s))
	}
}
