// Package metrics owns the process Prometheus registry. Record helpers are
// no-ops until SetModule installs a module, so library code can call them
// unconditionally.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "huddle"

type collectors struct {
	syncConnections    prometheus.Gauge
	syncSubscriptions  *prometheus.CounterVec
	syncBatches        *prometheus.CounterVec
	syncDropped        *prometheus.CounterVec
	syncRateLimited    prometheus.Counter
	meetingsSwept      prometheus.Counter
	sweepRuns          *prometheus.CounterVec
	connectionAttempts *prometheus.CounterVec
	remoteStreams      prometheus.Gauge
}

func newCollectors(namespace string) *collectors {
	return &collectors{
		syncConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_connections",
			Help:      "Open document sync sockets",
		}),
		syncSubscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_subscriptions_total",
			Help:      "Document sync subscribe/unsubscribe events",
		}, []string{"kind", "action"}),
		syncBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_batches_total",
			Help:      "Change batches pushed to sync clients",
		}, []string{"kind"}),
		syncDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_dropped_total",
			Help:      "Sync sockets closed by the server",
		}, []string{"reason"}),
		syncRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rate_limited_total",
			Help:      "Writes rejected by the per-user rate limiter",
		}),
		meetingsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meetings_swept_total",
			Help:      "Meetings completed by the expiry sweeper",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweeper runs by result",
		}, []string{"result"}),
		connectionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_connection_attempts_total",
			Help:      "Room connection attempts by result",
		}, []string{"result"}),
		remoteStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_remote_streams",
			Help:      "Remote streams currently admitted",
		}),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.syncConnections,
		c.syncSubscriptions,
		c.syncBatches,
		c.syncDropped,
		c.syncRateLimited,
		c.meetingsSwept,
		c.sweepRuns,
		c.connectionAttempts,
		c.remoteStreams,
	}
}

type Options struct {
	Namespace        string
	DisableGoMetrics bool
}

// Module is one registry plus the collectors registered on it.
type Module struct {
	registry *prometheus.Registry
	metrics  *collectors
}

func NewModule(opts Options) (*Module, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()
	if !opts.DisableGoMetrics {
		if err := registry.Register(prometheus.NewGoCollector()); err != nil {
			return nil, err
		}
	}
	metrics := newCollectors(namespace)
	for _, c := range metrics.all() {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return &Module{registry: registry, metrics: metrics}, nil
}

func (m *Module) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the module's registry in the Prometheus text format.
func (m *Module) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var global atomic.Pointer[Module]

// SetModule installs the process-wide module used by the Record helpers.
func SetModule(m *Module) {
	if m != nil {
		global.Store(m)
	}
}

func current() *collectors {
	m := global.Load()
	if m == nil {
		return nil
	}
	return m.metrics
}

func SyncConnection(delta int) {
	if c := current(); c != nil {
		c.syncConnections.Add(float64(delta))
	}
}

// SyncSubscription records action ("subscribe" or "unsubscribe") for kind
// ("doc" or "query").
func SyncSubscription(kind, action string) {
	if c := current(); c != nil {
		c.syncSubscriptions.WithLabelValues(kind, action).Inc()
	}
}

func SyncBatch(kind string) {
	if c := current(); c != nil {
		c.syncBatches.WithLabelValues(kind).Inc()
	}
}

func SyncDropped(reason string) {
	if c := current(); c != nil {
		c.syncDropped.WithLabelValues(reason).Inc()
	}
}

func SyncRateLimited() {
	if c := current(); c != nil {
		c.syncRateLimited.Inc()
	}
}

func MeetingsSwept(n int) {
	if c := current(); c != nil && n > 0 {
		c.meetingsSwept.Add(float64(n))
	}
}

func SweepRun(result string) {
	if c := current(); c != nil {
		c.sweepRuns.WithLabelValues(result).Inc()
	}
}

func ConnectionAttempt(result string) {
	if c := current(); c != nil {
		c.connectionAttempts.WithLabelValues(result).Inc()
	}
}

func RemoteStreams(delta int) {
	if c := current(); c != nil {
		c.remoteStreams.Add(float64(delta))
	}
}
