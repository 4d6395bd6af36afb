// Package metrics exposes server activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collector set.
type Config struct {
	// Namespace is the metrics namespace (default: "netstat").
	Namespace string

	// Subsystem is the metrics subsystem (default: "server").
	Subsystem string

	// Buckets are the histogram buckets for exchange duration.
	Buckets []float64

	// Registry is the registerer the collectors are added to.
	// Default: a fresh prometheus.Registry.
	Registry prometheus.Registerer
}

// Option configures the collector set.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) { c.Subsystem = subsystem }
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

// Exchange outcomes used as the status label.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Server holds the collectors updated by the server. All methods are
// safe on a nil receiver so that metrics stay optional.
type Server struct {
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	exchangesTotal      *prometheus.CounterVec
	exchangeDuration    *prometheus.HistogramVec
	receiveErrors        prometheus.Counter
	acceptErrors        prometheus.Counter
	bytesReceived       prometheus.Counter
	bytesSent           prometheus.Counter

	registry prometheus.Registerer
}

// New registers the server collectors and returns them.
func New(opts ...Option) *Server {
	cfg := Config{
		Namespace: "netstat",
		Subsystem: "server",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Server{
		registry: cfg.Registry,

		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted client connections",
		}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connections_active",
			Help:      "Number of client connections currently being served",
		}),

		exchangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "exchanges_total",
			Help:      "Total number of request/response exchanges",
		}, []string{"kind", "status"}),

		exchangeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "exchange_duration_seconds",
			Help:      "Time from request decode to response write",
			Buckets:   cfg.Buckets,
		}, []string{"kind"}),

		receiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "receive_errors_total",
			Help:      "Total number of failed request reads, including malformed frames and timeouts",
		}),

		acceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "accept_errors_total",
			Help:      "Total number of failed accepts",
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "received_bytes_total",
			Help:      "Total bytes read from clients",
		}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sent_bytes_total",
			Help:      "Total bytes written to clients",
		}),
	}
}

// Gatherer returns the registry as a gatherer when it is one.
func (m *Server) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	if g, ok := m.registry.(prometheus.Gatherer); ok {
		return g
	}
	return nil
}

// ConnectionOpened records an accepted connection.
func (m *Server) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records the end of a served connection.
func (m *Server) ConnectionClosed(bytesRead, bytesWritten uint64) {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
	m.bytesReceived.Add(float64(bytesRead))
	m.bytesSent.Add(float64(bytesWritten))
}

// Exchange records one completed exchange.
func (m *Server) Exchange(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchangesTotal.WithLabelValues(kind, status).Inc()
	m.exchangeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ReceiveError records a failed request read.
func (m *Server) ReceiveError() {
	if m == nil {
		return
	}
	m.receiveErrors.Inc()
}

// AcceptError records a failed accept.
func (m *Server) AcceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}
