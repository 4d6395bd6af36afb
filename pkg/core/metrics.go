package core

import "sync/atomic"

// ConnMetrics contains counters for a set of connections. Fields are
// updated with sync/atomic; read them through Load.
type ConnMetrics struct {
	// ConnectionsCreated is the number of connections opened or accepted.
	ConnectionsCreated uint64

	// ConnectionsClosed is the number of connections closed.
	ConnectionsClosed uint64

	// EnvelopesSent is the number of envelopes written.
	EnvelopesSent uint64

	// EnvelopesReceived is the number of envelopes decoded.
	EnvelopesReceived uint64

	// BytesSent is the number of bytes written to sockets.
	BytesSent uint64

	// BytesReceived is the number of bytes read from sockets.
	BytesReceived uint64

	// Errors is the number of transport and decode errors encountered.
	Errors uint64
}

// Load returns a consistent-enough copy of m using atomic loads.
func (m *ConnMetrics) Load() ConnMetrics {
	if m == nil {
		return ConnMetrics{}
	}
	return ConnMetrics{
		ConnectionsCreated: atomic.LoadUint64(&m.ConnectionsCreated),
		ConnectionsClosed:  atomic.LoadUint64(&m.ConnectionsClosed),
		EnvelopesSent:      atomic.LoadUint64(&m.EnvelopesSent),
		EnvelopesReceived:  atomic.LoadUint64(&m.EnvelopesReceived),
		BytesSent:          atomic.LoadUint64(&m.BytesSent),
		BytesReceived:      atomic.LoadUint64(&m.BytesReceived),
		Errors:             atomic.LoadUint64(&m.Errors),
	}
}

// Open returns the number of connections created but not yet closed.
func (m ConnMetrics) Open() uint64 {
	if m.ConnectionsClosed > m.ConnectionsCreated {
		return 0
	}
	return m.ConnectionsCreated - m.ConnectionsClosed
}

// Reset resets all counters to zero.
func (m *ConnMetrics) Reset() {
	atomic.StoreUint64(&m.ConnectionsCreated, 0)
	atomic.StoreUint64(&m.ConnectionsClosed, 0)
	atomic.StoreUint64(&m.EnvelopesSent, 0)
	atomic.StoreUint64(&m.EnvelopesReceived, 0)
	atomic.StoreUint64(&m.BytesSent, 0)
	atomic.StoreUint64(&m.BytesReceived, 0)
	atomic.StoreUint64(&m.Errors, 0)
}

