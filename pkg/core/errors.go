package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the client, the server and the connection layer.
// Callers classify failures with errors.Is; every error returned by this
// module wraps exactly one of these sentinels.
var (
	// ErrConfig reports malformed address/port text. No socket was touched.
	ErrConfig = errors.New("invalid configuration")

	// ErrState reports an operation that is not valid in the current state.
	ErrState = errors.New("invalid state")

	// ErrConnect reports an outbound connection setup failure.
	ErrConnect = errors.New("connect failed")

	// ErrBind reports a listener bind/listen failure.
	ErrBind = errors.New("bind failed")

	// ErrAccept reports a failure to accept an inbound connection.
	ErrAccept = errors.New("accept failed")

	// ErrIO reports a mid-exchange transport failure.
	ErrIO = errors.New("i/o error")

	// ErrTimeout reports an exchange that exceeded its deadline.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrIO)

	// ErrPeerClosed reports that the peer closed the connection between envelopes.
	ErrPeerClosed = errors.New("connection closed by peer")

	// ErrClosed reports an operation on a connection that was already closed.
	ErrClosed = errors.New("connection closed")

	// ErrCancelled reports an operation unblocked by cancellation or a
	// concurrent close.
	ErrCancelled = errors.New("operation cancelled")

	// ErrProvider reports a statistics lookup failure.
	ErrProvider = errors.New("stats provider failed")
)

// Describe renders err as a single operator-facing line.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrConfig):
		return fmt.Sprintf("Configuration error: %v", err)
	case errors.Is(err, ErrState):
		return fmt.Sprintf("Not allowed right now: %v", err)
	case errors.Is(err, ErrConnect):
		return fmt.Sprintf("Could not connect: %v", err)
	case errors.Is(err, ErrBind):
		return fmt.Sprintf("Could not start server: %v", err)
	case errors.Is(err, ErrTimeout):
		return fmt.Sprintf("Timed out: %v", err)
	case errors.Is(err, ErrPeerClosed):
		return "The remote side closed the connection"
	case errors.Is(err, ErrCancelled):
		return "The operation was cancelled"
	case errors.Is(err, ErrClosed):
		return "The connection is closed"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
