// Package admin serves the operator HTTP endpoints: health, Prometheus
// metrics, per-peer ledger totals and a websocket stream of log lines.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/netstat/pkg/logging"
	"github.com/irctrakz/netstat/pkg/stats"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// Options selects what the admin endpoints expose. Nil fields disable the
// corresponding endpoint, except Health which defaults to always healthy.
type Options struct {
	Gatherer prometheus.Gatherer
	Events   *logging.EventStream
	Ledger   *stats.Ledger
	Health   func() error
}

// Server is the admin HTTP server.
type Server struct {
	addr string
	opts Options
	log  *logrus.Entry

	upgrader websocket.Upgrader

	mu      sync.Mutex
	httpSrv *http.Server
	ln      net.Listener
	done    chan struct{}
	streams sync.WaitGroup
}

// New returns an admin server that will listen on addr.
func New(addr string, opts Options) *Server {
	return &Server{
		addr: addr,
		opts: opts,
		log:  logging.Component("admin"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.Ledger != nil {
		r.Get("/peers", s.handlePeers)
	}
	if s.opts.Events != nil {
		r.Get("/events", s.handleEvents)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.opts.Health != nil {
		if err := s.opts.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy: %v\n", err)
			return
		}
	}
	fmt.Fprintln(w, "ok")
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoniter.NewEncoder(w).Encode(s.opts.Ledger.Peers()); err != nil {
		s.log.WithError(err).Debug("Failed to write peers")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.streams.Add(1)
	defer s.streams.Done()
	defer ws.Close()

	lines, cancel := s.opts.Events.Subscribe(eventBuffer)
	defer cancel()

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, line := range s.opts.Events.History() {
		if err := s.writeJSON(ws, line); err != nil {
			return
		}
	}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := s.writeJSON(ws, line); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.doneCh():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) writeJSON(ws *websocket.Conn, v interface{}) error {
	data, err := jsoniter.Marshal(v)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) doneCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("admin server already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	s.ln = ln
	s.done = make(chan struct{})
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.httpSrv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Admin server failed")
		}
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("Admin server started")
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts the server down, ending every event stream.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpSrv, s.done
	s.httpSrv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	close(done)
	err := srv.Shutdown(ctx)
	s.streams.Wait()
	return err
}
