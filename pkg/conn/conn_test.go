package conn

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/envelope"
)

func listen(t *testing.T) *net.TCPListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback listen not permitted: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln.(*net.TCPListener)
}

func port(ln net.Listener) uint16 {
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// pair returns an outbound Conn and the raw server side socket.
func pair(t *testing.T, opts Options) (*Conn, net.Conn) {
	t.Helper()
	ln := listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			accepted <- nc
		}
		close(accepted)
	}()
	c, err := Open(context.Background(), "127.0.0.1", port(ln), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	raw, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() { _ = raw.Close() })
	return c, raw
}

func response() envelope.Envelope {
	return envelope.Envelope{
		Kind:          envelope.FetchTcpStats,
		Message:       "ok",
		IPAddress:     "127.0.0.1",
		Port:          40000,
		BytesReceived: 10,
		BytesSent:     20,
		ProtocolType:  "TCP",
	}
}

func TestSendReceive(t *testing.T) {
	ln := listen(t)
	var metrics core.ConnMetrics
	opts := Options{ReadTimeout: 2 * time.Second, Metrics: &metrics}

	done := make(chan error, 1)
	go func() {
		srv, err := Accept(context.Background(), ln, opts)
		if err != nil {
			done <- err
			return
		}
		defer srv.Close()
		req, err := srv.Receive(context.Background())
		if err != nil {
			done <- err
			return
		}
		if req.Kind != envelope.FetchTcpStats {
			done <- errors.New("unexpected kind")
			return
		}
		done <- srv.Send(context.Background(), response())
	}()

	c, err := Open(context.Background(), "127.0.0.1", port(ln), opts)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, core.ConnOpen, c.State())
	assert.NotEmpty(t, c.ID())

	require.NoError(t, c.Send(context.Background(), envelope.NewRequest(envelope.FetchTcpStats)))
	got, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, response(), got)
	require.NoError(t, <-done)

	size := uint64(envelope.Size(envelope.NewRequest(envelope.FetchTcpStats)))
	assert.Equal(t, size, c.BytesWritten())
	assert.Equal(t, uint64(envelope.Size(response())), c.BytesRead())

	require.NoError(t, c.Close())
	assert.Equal(t, core.ConnClosed, c.State())

	m := metrics.Load()
	assert.Equal(t, uint64(2), m.ConnectionsCreated)
	assert.Equal(t, uint64(2), m.EnvelopesSent)
	assert.Equal(t, uint64(2), m.EnvelopesReceived)
	assert.Equal(t, uint64(0), m.Errors)
}

func TestReceiveSplitWrites(t *testing.T) {
	c, raw := pair(t, Options{ReadTimeout: 2 * time.Second})

	frame, err := envelope.Encode(response())
	require.NoError(t, err)
	go func() {
		for _, b := range frame {
			_, _ = raw.Write([]byte{b})
			time.Sleep(time.Millisecond)
		}
	}()

	got, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, response(), got)
}

func TestReceiveBackToBack(t *testing.T) {
	c, raw := pair(t, Options{ReadTimeout: 2 * time.Second})

	first := response()
	second := response()
	second.Message = "second"
	stream, err := envelope.AppendEncode(nil, first)
	require.NoError(t, err)
	stream, err = envelope.AppendEncode(stream, second)
	require.NoError(t, err)
	_, err = raw.Write(stream)
	require.NoError(t, err)

	got, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, err = c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestReceivePeerClosed(t *testing.T) {
	c, raw := pair(t, Options{ReadTimeout: 2 * time.Second})
	require.NoError(t, raw.Close())

	_, err := c.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrPeerClosed)
}

func TestReceivePartialFrameThenEOF(t *testing.T) {
	c, raw := pair(t, Options{ReadTimeout: 2 * time.Second})
	frame, err := envelope.Encode(response())
	require.NoError(t, err)
	_, err = raw.Write(frame[:7])
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrIO)
	assert.NotErrorIs(t, err, core.ErrPeerClosed)
}

func TestReceiveMalformedClosesConnection(t *testing.T) {
	c, raw := pair(t, Options{ReadTimeout: 2 * time.Second})
	_, err := raw.Write(binary.BigEndian.AppendUint32(nil, 3))
	require.NoError(t, err)

	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrIO)
	assert.ErrorIs(t, err, envelope.ErrMalformed)
	var de *envelope.DecodeError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, core.ConnClosed, c.State())
}

func TestReceiveTimeout(t *testing.T) {
	c, _ := pair(t, Options{ReadTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := c.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.ErrorIs(t, err, core.ErrIO)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReceiveCancelledByContext(t *testing.T) {
	c, _ := pair(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Receive(ctx)
	assert.ErrorIs(t, err, core.ErrCancelled)
}

func TestReceiveCancelledByClose(t *testing.T) {
	c, _ := pair(t, Options{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = c.Close()
	}()

	_, err := c.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrCancelled)
}

func TestOperationsAfterClose(t *testing.T) {
	c, _ := pair(t, Options{})
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	err := c.Send(context.Background(), envelope.NewRequest(envelope.FetchTcpStats))
	assert.ErrorIs(t, err, core.ErrClosed)
	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestSendInvalidEnvelope(t *testing.T) {
	c, _ := pair(t, Options{})
	err := c.Send(context.Background(), envelope.Envelope{})
	assert.ErrorIs(t, err, envelope.ErrUnknownKind)
	assert.Equal(t, uint64(0), c.BytesWritten())
}

func TestOpenRefused(t *testing.T) {
	ln := listen(t)
	p := port(ln)
	require.NoError(t, ln.Close())

	_, err := Open(context.Background(), "127.0.0.1", p, Options{DialTimeout: time.Second})
	assert.ErrorIs(t, err, core.ErrConnect)
}

func TestAcceptCancelled(t *testing.T) {
	ln := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := Accept(ctx, ln, Options{})
	assert.ErrorIs(t, err, core.ErrCancelled)
}

func TestPeer(t *testing.T) {
	c, raw := pair(t, Options{})
	ip, p := c.Peer()
	assert.Equal(t, "127.0.0.1", ip)
	assert.Equal(t, uint16(raw.LocalAddr().(*net.TCPAddr).Port), p)
	assert.Equal(t, raw.LocalAddr().String(), c.RemoteAddr().String())
	assert.Equal(t, raw.RemoteAddr().String(), c.LocalAddr().String())
}

func TestAcceptClearsDeadlineAfterCancel(t *testing.T) {
	ln := listen(t)
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Accept(ctx, ln, Options{})
		require.ErrorIs(t, err, core.ErrCancelled)
	}

	// The listener must be usable again with a live context.
	go func() {
		if nc, err := net.Dial("tcp", ln.Addr().String()); err == nil {
			defer nc.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Accept(ctx, ln, Options{})
	require.NoError(t, err)
	_ = c.Close()
}
