// Package conn wraps a single TCP connection carrying envelopes.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/envelope"
	"github.com/irctrakz/netstat/pkg/logging"
)

const readChunk = 4096

// aLongTimeAgo is a deadline in the past used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Options controls timeouts and accounting for a connection.
type Options struct {
	// DialTimeout bounds Open. 0 means no bound beyond ctx.
	DialTimeout time.Duration

	// ReadTimeout bounds each Receive. 0 means no bound beyond ctx.
	ReadTimeout time.Duration

	// WriteTimeout bounds each Send. 0 means no bound beyond ctx.
	WriteTimeout time.Duration

	// Metrics, when set, accumulates counters shared across connections.
	Metrics *core.ConnMetrics
}

// Conn is one TCP session carrying envelopes. Send and Receive must not be
// called concurrently with themselves; Close may be called from any
// goroutine and unblocks both.
type Conn struct {
	id      string
	nc      net.Conn
	opts    Options
	metrics *core.ConnMetrics
	log     *logrus.Entry

	state     atomic.Uint32
	closeOnce sync.Once
	closed    chan struct{}

	dec     envelope.Decoder
	readBuf []byte

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

func newConn(nc net.Conn, opts Options, direction string) *Conn {
	c := &Conn{
		id:      uuid.NewString(),
		nc:      nc,
		opts:    opts,
		closed:  make(chan struct{}),
		readBuf: make([]byte, readChunk),
		metrics: opts.Metrics,
	}
	if c.metrics == nil {
		c.metrics = &core.ConnMetrics{}
	}
	c.state.Store(uint32(core.ConnOpen))
	c.log = logging.WithFields(logrus.Fields{
		"component": "conn",
		"conn":      c.id,
		"direction": direction,
		"remote":    nc.RemoteAddr().String(),
	})
	atomic.AddUint64(&c.metrics.ConnectionsCreated, 1)
	c.log.Debugf("Connection open")
	return c
}

// Open dials address:port. address must be an IP literal or host name
// understood by the resolver.
func Open(ctx context.Context, address string, port uint16, opts Options) (*Conn, error) {
	target := net.JoinHostPort(address, strconv.Itoa(int(port)))
	d := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w: %v", target, core.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("dial %s: %w: %v", target, core.ErrConnect, err)
	}
	return newConn(nc, opts, "outbound"), nil
}

// deadliner is implemented by listeners that support accept deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Accept waits for one inbound connection on ln. Cancelling ctx unblocks the
// pending accept when ln supports deadlines; otherwise the caller unblocks it
// by closing ln.
func Accept(ctx context.Context, ln net.Listener, opts Options) (*Conn, error) {
	if dl, ok := ln.(deadliner); ok {
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			_ = dl.SetDeadline(aLongTimeAgo)
			close(fired)
		})
		defer func() {
			if !stop() {
				// The callback ran or is running; clear only after it is done.
				<-fired
				_ = dl.SetDeadline(time.Time{})
			}
		}()
	}
	nc, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("accept: %w: %v", core.ErrCancelled, err)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrAccept, err)
	}
	return newConn(nc, opts, "inbound"), nil
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() core.ConnState { return core.ConnState(c.state.Load()) }

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// Peer returns the peer IP in its canonical text form and the peer port.
func (c *Conn) Peer() (string, uint16) {
	ap, err := netip.ParseAddrPort(c.nc.RemoteAddr().String())
	if err != nil {
		return c.nc.RemoteAddr().String(), 0
	}
	return ap.Addr().Unmap().String(), ap.Port()
}

// BytesRead returns the number of bytes read from the socket.
func (c *Conn) BytesRead() uint64 { return c.bytesRead.Load() }

// BytesWritten returns the number of bytes written to the socket.
func (c *Conn) BytesWritten() uint64 { return c.bytesWritten.Load() }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Send encodes e and writes the whole frame.
func (c *Conn) Send(ctx context.Context, e envelope.Envelope) error {
	if c.isClosed() {
		return fmt.Errorf("send: %w", core.ErrClosed)
	}
	frame, err := envelope.EncodePooled(e)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer envelope.PutBuffer(frame)

	if c.opts.WriteTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	} else {
		_ = c.nc.SetWriteDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.nc.SetWriteDeadline(aLongTimeAgo) })
	defer stop()

	for b := frame; len(b) > 0; {
		n, err := c.nc.Write(b)
		if n > 0 {
			c.bytesWritten.Add(uint64(n))
			atomic.AddUint64(&c.metrics.BytesSent, uint64(n))
			b = b[n:]
		}
		if err != nil {
			return c.ioError(ctx, "send", err)
		}
	}
	atomic.AddUint64(&c.metrics.EnvelopesSent, 1)
	c.log.WithField("kind", e.Kind).Debugf("Envelope sent (%d bytes)", len(frame))
	return nil
}

// Receive returns the next envelope from the peer.
func (c *Conn) Receive(ctx context.Context) (envelope.Envelope, error) {
	if c.isClosed() {
		return envelope.Envelope{}, fmt.Errorf("receive: %w", core.ErrClosed)
	}

	if c.opts.ReadTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.nc.SetReadDeadline(aLongTimeAgo) })
	defer stop()

	var readErr error
	for {
		e, err := c.dec.Next()
		if err == nil {
			atomic.AddUint64(&c.metrics.EnvelopesReceived, 1)
			c.log.WithField("kind", e.Kind).Debugf("Envelope received")
			return e, nil
		}
		if !errors.Is(err, envelope.ErrTruncated) {
			atomic.AddUint64(&c.metrics.Errors, 1)
			c.log.WithError(err).Warnf("Malformed frame, closing connection")
			_ = c.Close()
			return envelope.Envelope{}, fmt.Errorf("receive: %w: %w", core.ErrIO, err)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if c.dec.Buffered() == 0 {
					return envelope.Envelope{}, fmt.Errorf("receive: %w", core.ErrPeerClosed)
				}
				atomic.AddUint64(&c.metrics.Errors, 1)
				return envelope.Envelope{}, fmt.Errorf("receive: %w: peer closed with %d bytes of a partial frame",
					core.ErrIO, c.dec.Buffered())
			}
			return envelope.Envelope{}, c.ioError(ctx, "receive", readErr)
		}

		var n int
		n, readErr = c.nc.Read(c.readBuf)
		if n > 0 {
			c.bytesRead.Add(uint64(n))
			atomic.AddUint64(&c.metrics.BytesReceived, uint64(n))
			c.dec.Feed(c.readBuf[:n])
		}
	}
}

// ioError classifies a socket error from op.
func (c *Conn) ioError(ctx context.Context, op string, err error) error {
	if c.isClosed() || ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, core.ErrCancelled)
	}
	atomic.AddUint64(&c.metrics.Errors, 1)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, core.ErrTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w", op, core.ErrTimeout)
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrIO, err)
}

// Close releases the socket. It is safe to call more than once and from any
// goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(uint32(core.ConnClosing))
		close(c.closed)
		err = c.nc.Close()
		c.state.Store(uint32(core.ConnClosed))
		atomic.AddUint64(&c.metrics.ConnectionsClosed, 1)
		c.log.WithFields(logrus.Fields{
			"bytes_read":    c.bytesRead.Load(),
			"bytes_written": c.bytesWritten.Load(),
		}).Debugf("Connection closed")
	})
	return err
}
