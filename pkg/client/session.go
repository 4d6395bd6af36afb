// Package client implements the session controller used by operator-facing
// front ends to talk to a netstat server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irctrakz/netstat/pkg/conn"
	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/envelope"
	"github.com/irctrakz/netstat/pkg/logging"
)

const tracerName = "github.com/irctrakz/netstat/pkg/client"

// ResponseHeader introduces the per-field lines emitted for a response.
const ResponseHeader = "========== Data received from the server =========="

// Session owns at most one connection to a server and runs exchanges on it
// one at a time.
type Session struct {
	cfg         core.ClientConfig
	events      core.EventSink
	connMetrics *core.ConnMetrics
	tracer      trace.Tracer
	log         *logrus.Entry

	mu    sync.Mutex
	state core.SessionState
	conn  *conn.Conn

	// xmu serializes exchanges. Disconnect takes only mu.
	xmu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithEvents sets the sink receiving operator log lines.
func WithEvents(sink core.EventSink) Option {
	return func(s *Session) { s.events = sink }
}

// WithConnMetrics sets counters accumulated by the session's connections.
func WithConnMetrics(m *core.ConnMetrics) Option {
	return func(s *Session) { s.connMetrics = m }
}

// WithTracer sets the tracer used for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// New returns a disconnected session.
func New(cfg core.ClientConfig, opts ...Option) *Session {
	s := &Session{
		cfg:   cfg,
		state: core.SessionDisconnected,
		log:   logging.Component("client"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = core.NopSink
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// ParseTarget validates a server address and port as typed by an operator.
// The address must be an IP literal and the port a number in 1..65535.
func ParseTarget(addressText, portText string) (netip.AddrPort, error) {
	addressText = strings.TrimSpace(addressText)
	if addressText == "" {
		return netip.AddrPort{}, fmt.Errorf("%w: address is empty", core.ErrConfig)
	}
	addr, err := netip.ParseAddr(addressText)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: address %q is not an IP address", core.ErrConfig, addressText)
	}
	port, err := strconv.ParseUint(strings.TrimSpace(portText), 10, 16)
	if err != nil || port == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: port %q is not a number in 1..65535", core.ErrConfig, portText)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

// State returns the current session state.
func (s *Session) State() core.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr returns the connected server's address, or "" when not
// connected.
func (s *Session) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Connect opens a connection to the server at addressText:portText.
func (s *Session) Connect(ctx context.Context, addressText, portText string) (err error) {
	target, err := ParseTarget(addressText, portText)
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "client.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("net.peer.name", target.String())),
	)
	defer func() {
		endSpan(span, err)
	}()

	s.mu.Lock()
	if s.state != core.SessionDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot connect while %s", core.ErrState, state)
	}
	s.state = core.SessionConnecting
	s.mu.Unlock()

	c, err := conn.Open(ctx, target.Addr().String(), target.Port(), conn.Options{
		DialTimeout:  s.cfg.DialTimeout(),
		ReadTimeout:  s.cfg.ReadTimeout(),
		WriteTimeout: s.cfg.WriteTimeout(),
		Metrics:      s.connMetrics,
	})

	s.mu.Lock()
	if err != nil {
		s.state = core.SessionDisconnected
		s.mu.Unlock()
		s.log.WithField("target", target.String()).WithError(err).Warn("Connect failed")
		core.Emitf(s.events, core.SourceClient, "Failed to connect to server %s: %s", target, core.Describe(err))
		return err
	}
	s.conn = c
	s.state = core.SessionConnected
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"conn": c.ID(), "remote": c.RemoteAddr().String()}).Info("Connected")
	core.Emitf(s.events, core.SourceClient, "Connected to server %s", c.RemoteAddr())
	return nil
}

// Disconnect closes the connection. Any exchange in flight fails with
// core.ErrCancelled. It does nothing unless the session is connected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state != core.SessionConnected {
		s.mu.Unlock()
		return
	}
	c := s.conn
	s.conn = nil
	s.state = core.SessionDisconnected
	s.mu.Unlock()

	_ = c.Close()
	s.log.WithField("conn", c.ID()).Info("Disconnected")
	core.Emitf(s.events, core.SourceClient, "Disconnected from server")
}

// FetchStats sends a FetchTcpStats request and waits for the response.
// Send and receive run as one unit; concurrent calls queue behind it. A
// transport failure drops the connection and leaves the session
// disconnected.
func (s *Session) FetchStats(ctx context.Context) (resp envelope.Envelope, err error) {
	s.xmu.Lock()
	defer s.xmu.Unlock()

	s.mu.Lock()
	if s.state != core.SessionConnected {
		state := s.state
		s.mu.Unlock()
		return envelope.Envelope{}, fmt.Errorf("%w: cannot fetch statistics while %s", core.ErrState, state)
	}
	c := s.conn
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "client.fetch_stats",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("netstat.conn", c.ID()),
			attribute.String("netstat.kind", envelope.FetchTcpStats.String()),
		),
	)
	defer func() {
		endSpan(span, err)
	}()

	req := envelope.NewRequest(envelope.FetchTcpStats)
	if err := c.Send(ctx, req); err != nil {
		return envelope.Envelope{}, s.exchangeFailed(c, err)
	}
	core.Emitf(s.events, core.SourceClient, "Request sent: %s", req.Kind)

	resp, err = c.Receive(ctx)
	if err != nil {
		return envelope.Envelope{}, s.exchangeFailed(c, err)
	}
	s.emitResponse(resp)
	return resp, nil
}

// exchangeFailed drops c unless Disconnect already did, and reports err.
func (s *Session) exchangeFailed(c *conn.Conn, err error) error {
	s.mu.Lock()
	current := s.conn == c
	if current {
		s.conn = nil
		s.state = core.SessionDisconnected
	}
	s.mu.Unlock()

	if !current {
		// A concurrent Disconnect or Connect replaced c; whatever c failed
		// with is a consequence of that.
		if errors.Is(err, core.ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrCancelled, err)
	}
	_ = c.Close()
	s.log.WithField("conn", c.ID()).WithError(err).Warn("Exchange failed")
	core.Emitf(s.events, core.SourceClient, "Request failed: %s", core.Describe(err))
	core.Emitf(s.events, core.SourceClient, "Disconnected from server")
	return err
}

func (s *Session) emitResponse(resp envelope.Envelope) {
	for _, line := range ResponseLines(resp) {
		core.Emitf(s.events, core.SourceClient, "%s", line)
	}
}

// ResponseLines renders resp as the header followed by one line per field.
func ResponseLines(resp envelope.Envelope) []string {
	return []string{
		ResponseHeader,
		"Message: " + resp.Message,
		"Client IP address: " + resp.IPAddress,
		"Client port: " + strconv.Itoa(int(resp.Port)),
		"Bytes received: " + strconv.FormatUint(uint64(resp.BytesReceived), 10),
		"Bytes sent: " + strconv.FormatUint(uint64(resp.BytesSent), 10),
		"Protocol type: " + resp.ProtocolType,
	}
}

func endSpan(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, core.ErrCancelled):
		span.SetStatus(codes.Error, "cancelled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
