package core

import "context"

// StatsSnapshot is the statistics record a StatsProvider returns for a peer.
type StatsSnapshot struct {
	// BytesReceived is the number of bytes received.
	BytesReceived uint64

	// BytesSent is the number of bytes sent.
	BytesSent uint64

	// ProtocolType is a protocol label such as "TCP".
	ProtocolType string
}

// StatsProvider supplies the statistics values used to populate a response.
type StatsProvider interface {
	// Snapshot returns statistics for the peer at peerAddress:peerPort.
	Snapshot(ctx context.Context, peerAddress string, peerPort uint16) (StatsSnapshot, error)
}

// StatsProviderFunc adapts a function to the StatsProvider interface.
type StatsProviderFunc func(ctx context.Context, peerAddress string, peerPort uint16) (StatsSnapshot, error)

// Snapshot implements StatsProvider.
func (f StatsProviderFunc) Snapshot(ctx context.Context, peerAddress string, peerPort uint16) (StatsSnapshot, error) {
	return f(ctx, peerAddress, peerPort)
}
