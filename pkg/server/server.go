// Package server implements the statistics server: a TCP listener that
// serves one request/response exchange per accepted connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/irctrakz/netstat/pkg/conn"
	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
	"github.com/irctrakz/netstat/pkg/metrics"
	"github.com/irctrakz/netstat/pkg/stats"
)

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Server accepts client connections and answers their requests.
type Server struct {
	cfg         core.ServerConfig
	handler     *Handler
	events      core.EventSink
	metrics     *metrics.Server
	connMetrics *core.ConnMetrics
	ledger      *stats.Ledger
	log         *logrus.Entry

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu     sync.Mutex
	state  core.ServerState
	ln     net.Listener
	cancel context.CancelFunc

	wg     sync.WaitGroup
	active atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithEvents sets the sink receiving operator log lines.
func WithEvents(sink core.EventSink) Option {
	return func(s *Server) { s.events = sink }
}

// WithMetrics sets the Prometheus collectors updated by the server.
func WithMetrics(m *metrics.Server) Option {
	return func(s *Server) { s.metrics = m }
}

// WithConnMetrics sets the counters shared by all served connections.
func WithConnMetrics(m *core.ConnMetrics) Option {
	return func(s *Server) { s.connMetrics = m }
}

// WithLedger sets the ledger that records per-peer traffic.
func WithLedger(l *stats.Ledger) Option {
	return func(s *Server) { s.ledger = l }
}

// New returns a stopped server. A nil handler serves statistics from the
// server's ledger.
func New(cfg core.ServerConfig, handler *Handler, opts ...Option) *Server {
	if cfg.Backlog <= 0 {
		cfg.Backlog = core.DefaultBacklog
	}
	if cfg.ReadTimeoutMs <= 0 {
		cfg.ReadTimeoutMs = core.DefaultReadTimeoutMs
	}
	s := &Server{
		cfg:   cfg,
		state: core.ServerStopped,
		log:   logging.Component("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = core.NopSink
	}
	if s.connMetrics == nil {
		s.connMetrics = &core.ConnMetrics{}
	}
	if s.ledger == nil {
		s.ledger = stats.NewLedger()
	}
	if handler == nil {
		handler = NewHandler(s.ledger)
	}
	s.handler = handler
	return s
}

// ParseListenAddress validates an IP literal and a port in 0..65535.
func ParseListenAddress(address, portText string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return "", fmt.Errorf("%w: address %q is not an IP address", core.ErrConfig, address)
	}
	port, err := strconv.ParseUint(strings.TrimSpace(portText), 10, 16)
	if err != nil {
		return "", fmt.Errorf("%w: port %q is not a number in 0..65535", core.ErrConfig, portText)
	}
	return netip.AddrPortFrom(addr, uint16(port)).String(), nil
}

// Start binds address:port and begins accepting connections.
func (s *Server) Start(address, portText string) error {
	target, err := ParseListenAddress(address, portText)
	if err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.State() != core.ServerStopped {
		return fmt.Errorf("%w: server is already listening", core.ErrState)
	}

	ln, err := net.Listen("tcp", target)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrBind, err)
	}
	bound := ln.Addr().String()
	ln = limitListener(ln, s.cfg.Backlog)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.state = core.ServerListening
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"addr":       bound,
		"backlog":    s.cfg.Backlog,
		"persistent": s.cfg.Persistent,
	}).Info("Server started")
	core.Emitf(s.events, core.SourceServer, "Server %s started", bound)
	core.Emitf(s.events, core.SourceServer, "Server is listening")

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Stop cancels the accept loop and every in-flight exchange, waits for all
// connection goroutines to finish and then releases the listener.
func (s *Server) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != core.ServerListening {
		s.mu.Unlock()
		return fmt.Errorf("%w: server is not listening", core.ErrState)
	}
	ln, cancel := s.ln, s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	err := ln.Close()

	s.mu.Lock()
	s.state = core.ServerStopped
	s.ln = nil
	s.cancel = nil
	s.mu.Unlock()

	s.log.Info("Server stopped")
	core.Emitf(s.events, core.SourceServer, "Server stopped")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// State returns the current server state.
func (s *Server) State() core.ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// ConnMetrics returns a snapshot of the connection counters.
func (s *Server) ConnMetrics() core.ConnMetrics {
	return s.connMetrics.Load()
}

// Ledger returns the ledger recording per-peer traffic.
func (s *Server) Ledger() *stats.Ledger {
	return s.ledger
}

func (s *Server) connOptions() conn.Options {
	return conn.Options{
		ReadTimeout:  s.cfg.ReadTimeout(),
		WriteTimeout: s.cfg.WriteTimeout(),
		Metrics:      s.connMetrics,
	}
}

// limitedListener keeps the accept deadline of the underlying TCP listener
// reachable through the connection cap.
type limitedListener struct {
	net.Listener
	tcp *net.TCPListener
}

func (l limitedListener) SetDeadline(t time.Time) error { return l.tcp.SetDeadline(t) }

// limitListener caps ln at n concurrent connections.
func limitListener(ln net.Listener, n int) net.Listener {
	limited := netutil.LimitListener(ln, n)
	if tcp, ok := ln.(*net.TCPListener); ok {
		return limitedListener{Listener: limited, tcp: tcp}
	}
	return limited
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	opts := s.connOptions()
	backoff := acceptBackoffMin
	for {
		c, err := conn.Accept(ctx, ln, opts)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, core.ErrCancelled) {
				return
			}
			s.metrics.AcceptError()
			s.log.WithError(err).Warnf("Accept failed, retrying in %v", backoff)
			core.Emitf(s.events, core.SourceServer, "Client failed to connect")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > acceptBackoffMax {
				backoff = acceptBackoffMax
			}
			continue
		}
		backoff = acceptBackoffMin
		s.wg.Add(1)
		go s.serve(ctx, c)
	}
}

// serve runs the exchanges of one connection and always closes it.
func (s *Server) serve(ctx context.Context, c *conn.Conn) {
	defer s.wg.Done()

	ip, port := c.Peer()
	peer := Peer{Address: ip, Port: port}
	log := s.log.WithFields(logrus.Fields{"conn": c.ID(), "peer": peer.String()})

	s.active.Add(1)
	s.metrics.ConnectionOpened()
	defer func() {
		_ = c.Close()
		s.active.Add(-1)
		s.metrics.ConnectionClosed(c.BytesRead(), c.BytesWritten())
		log.Debug("Connection released")
	}()

	core.Emitf(s.events, core.SourceServer, "Client %s connected", peer)

	for served := 0; ; served++ {
		readBefore := c.BytesRead()
		req, err := c.Receive(ctx)
		if err != nil {
			s.receiveFailed(log, peer, served, err)
			return
		}
		s.ledger.AddReceived(peer.Address, c.BytesRead()-readBefore)
		core.Emitf(s.events, core.SourceServer, "Client %s sent request: %s", peer, req.Kind)

		start := time.Now()
		res := s.handler.serve(ctx, peer, req)

		writtenBefore := c.BytesWritten()
		if err := c.Send(ctx, res.Response); err != nil {
			s.metrics.Exchange(req.Kind.String(), metrics.StatusError, time.Since(start))
			if !errors.Is(err, core.ErrCancelled) {
				log.WithError(err).Warn("Failed to send response")
				core.Emitf(s.events, core.SourceServer, "Failed to send response to client %s: %s", peer, core.Describe(err))
			}
			return
		}
		s.ledger.AddSent(peer.Address, c.BytesWritten()-writtenBefore)
		s.metrics.Exchange(req.Kind.String(), res.Status, time.Since(start))
		core.Emitf(s.events, core.SourceServer, "Server sent response to client %s", peer)

		if !s.cfg.Persistent {
			return
		}
	}
}

func (s *Server) receiveFailed(log *logrus.Entry, peer Peer, served int, err error) {
	switch {
	case errors.Is(err, core.ErrCancelled):
		log.Debug("Exchange cancelled")
	case errors.Is(err, core.ErrPeerClosed) && served > 0:
		log.Debug("Client closed persistent connection")
	default:
		s.metrics.ReceiveError()
		log.WithError(err).Warn("Failed to receive request")
		core.Emitf(s.events, core.SourceServer, "Client %s: %s", peer, core.Describe(err))
	}
}
