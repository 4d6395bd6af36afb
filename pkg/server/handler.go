package server

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/envelope"
	"github.com/irctrakz/netstat/pkg/logging"
	"github.com/irctrakz/netstat/pkg/metrics"
)

// SuccessMessage is the Message of every successful FetchTcpStats response.
const SuccessMessage = "Request received by the server and sent back to the client"

const tracerName = "github.com/irctrakz/netstat/pkg/server"

// Peer is the remote end of a served connection as observed by the server.
type Peer struct {
	Address string
	Port    uint16
}

func (p Peer) String() string {
	if strings.Contains(p.Address, ":") {
		return fmt.Sprintf("[%s]:%d", p.Address, p.Port)
	}
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// Result is a handler's response together with its outcome.
type Result struct {
	Response envelope.Envelope

	// Status is one of metrics.StatusOK, metrics.StatusDegraded or
	// metrics.StatusError.
	Status string
}

// HandlerFunc serves one request kind. It must always produce a response.
type HandlerFunc func(ctx context.Context, peer Peer, req envelope.Envelope) Result

// Handler dispatches decoded requests by kind.
type Handler struct {
	provider        core.StatsProvider
	providerTimeout time.Duration
	tracer          trace.Tracer
	log             *logrus.Entry

	mu     sync.RWMutex
	routes map[envelope.RequestKind]HandlerFunc
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithProviderTimeout bounds each StatsProvider call.
func WithProviderTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.providerTimeout = d }
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t trace.Tracer) HandlerOption {
	return func(h *Handler) { h.tracer = t }
}

// NewHandler returns a handler serving FetchTcpStats from provider.
func NewHandler(provider core.StatsProvider, opts ...HandlerOption) *Handler {
	h := &Handler{
		provider: provider,
		routes:   make(map[envelope.RequestKind]HandlerFunc),
		log:      logging.Component("handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	h.Register(envelope.FetchTcpStats, h.fetchTcpStats)
	return h
}

// Register installs fn for kind, replacing any previous handler.
func (h *Handler) Register(kind envelope.RequestKind, fn HandlerFunc) {
	h.mu.Lock()
	h.routes[kind] = fn
	h.mu.Unlock()
}

// Kinds returns the registered kinds in ascending order.
func (h *Handler) Kinds() []envelope.RequestKind {
	h.mu.RLock()
	kinds := make([]envelope.RequestKind, 0, len(h.routes))
	for k := range h.routes {
		kinds = append(kinds, k)
	}
	h.mu.RUnlock()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Handle produces the response for req. It never fails: lookup and provider
// errors are reported in the response Message.
func (h *Handler) Handle(ctx context.Context, peer Peer, req envelope.Envelope) envelope.Envelope {
	return h.serve(ctx, peer, req).Response
}

func (h *Handler) serve(ctx context.Context, peer Peer, req envelope.Envelope) Result {
	ctx, span := h.tracer.Start(ctx, "server.handle",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("netstat.kind", req.Kind.String()),
			attribute.String("net.peer.ip", peer.Address),
			attribute.Int("net.peer.port", int(peer.Port)),
		),
	)
	defer span.End()

	h.mu.RLock()
	fn, ok := h.routes[req.Kind]
	h.mu.RUnlock()

	var res Result
	if !ok {
		res = Result{
			Response: envelope.Envelope{
				Kind:      req.Kind,
				Message:   fmt.Sprintf("Unsupported request kind: %s", req.Kind),
				IPAddress: peer.Address,
				Port:      peer.Port,
			},
			Status: metrics.StatusError,
		}
	} else {
		res = fn(ctx, peer, req)
	}
	res.Response = sanitize(res.Response)

	span.SetAttributes(attribute.String("netstat.status", res.Status))
	if res.Status == metrics.StatusOK {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, res.Response.Message)
	}
	return res
}

func (h *Handler) fetchTcpStats(ctx context.Context, peer Peer, req envelope.Envelope) Result {
	resp := envelope.Envelope{
		Kind:      req.Kind,
		IPAddress: peer.Address,
		Port:      peer.Port,
	}
	if h.provider == nil {
		resp.Message = "Failed to collect statistics: no stats provider configured"
		return Result{Response: resp, Status: metrics.StatusDegraded}
	}

	if h.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.providerTimeout)
		defer cancel()
	}
	snap, err := h.provider.Snapshot(ctx, peer.Address, peer.Port)
	if err != nil {
		h.log.WithFields(logrus.Fields{"peer": peer.String()}).WithError(err).Warn("Stats provider failed")
		resp.Message = fmt.Sprintf("Failed to collect statistics: %v", err)
		return Result{Response: resp, Status: metrics.StatusDegraded}
	}

	resp.Message = SuccessMessage
	resp.BytesReceived = saturate32(snap.BytesReceived)
	resp.BytesSent = saturate32(snap.BytesSent)
	resp.ProtocolType = snap.ProtocolType
	return Result{Response: resp, Status: metrics.StatusOK}
}

// saturate32 clamps v to the range of the wire's 32-bit counters.
func saturate32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// sanitize makes every string field encodable.
func sanitize(e envelope.Envelope) envelope.Envelope {
	e.Message = encodable(e.Message)
	e.IPAddress = encodable(e.IPAddress)
	e.ProtocolType = encodable(e.ProtocolType)
	return e
}

func encodable(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	if len(s) <= envelope.MaxStringLen {
		return s
	}
	s = s[:envelope.MaxStringLen]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
