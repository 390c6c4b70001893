package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the sync engine.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Cache metrics
	CacheLookups  *prometheus.CounterVec
	CacheFetches  *prometheus.CounterVec
	Revalidations *prometheus.CounterVec
	QuotaResets   *prometheus.CounterVec

	// Mutation metrics
	Mutations *prometheus.CounterVec
	Rollbacks *prometheus.CounterVec

	// Streaming metrics
	Distillations *prometheus.CounterVec

	// Backend client metrics
	BackendDuration *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by cache and result (hit, stale, miss)",
			},
			[]string{"cache", "result"},
		),
		CacheFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_fetches_total",
				Help:      "Fetcher invocations by cache and status",
			},
			[]string{"cache", "status"},
		),
		Revalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workspace_revalidations_total",
				Help:      "Background workspace refreshes by outcome",
			},
			[]string{"outcome"},
		),
		QuotaResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "durable_quota_resets_total",
				Help:      "Durable cache clears caused by storage quota",
			},
			[]string{"store"},
		),
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Backend mutations by operation and status",
			},
			[]string{"operation", "status"},
		),
		Rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "optimistic_rollbacks_total",
				Help:      "Optimistic changes undone after a backend failure",
			},
			[]string{"entity"},
		),
		Distillations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "distillations_total",
				Help:      "Finished answer distillations by outcome (parsed, fallback)",
			},
			[]string{"outcome"},
		),
		BackendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_request_duration_seconds",
				Help:      "Backend client request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.CacheLookups,
		c.CacheFetches,
		c.Revalidations,
		c.QuotaResets,
		c.Mutations,
		c.Rollbacks,
		c.Distillations,
		c.BackendDuration,
	)

	return c
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CacheLookup records a cache lookup result
func (c *Collector) CacheLookup(cache, result string) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues(cache, result).Inc()
}

// CacheFetch records a fetcher invocation
func (c *Collector) CacheFetch(cache string, err error) {
	if c == nil {
		return
	}
	c.CacheFetches.WithLabelValues(cache, status(err)).Inc()
}

// Revalidation records the outcome of a background refresh
func (c *Collector) Revalidation(outcome string) {
	if c == nil {
		return
	}
	c.Revalidations.WithLabelValues(outcome).Inc()
}

// QuotaReset records a durable cache clear
func (c *Collector) QuotaReset(store string) {
	if c == nil {
		return
	}
	c.QuotaResets.WithLabelValues(store).Inc()
}

// Mutation records a backend mutation result
func (c *Collector) Mutation(operation string, err error) {
	if c == nil {
		return
	}
	c.Mutations.WithLabelValues(operation, status(err)).Inc()
}

// Rollback records an optimistic change that was undone
func (c *Collector) Rollback(entity string) {
	if c == nil {
		return
	}
	c.Rollbacks.WithLabelValues(entity).Inc()
}

// Distillation records how a streamed answer was summarised
func (c *Collector) Distillation(outcome string) {
	if c == nil {
		return
	}
	c.Distillations.WithLabelValues(outcome).Inc()
}

// RecordHTTP records a served HTTP request
func (c *Collector) RecordHTTP(method, route string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, statusClass(statusCode)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBackend records a backend client call
func (c *Collector) RecordBackend(operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.BackendDuration.WithLabelValues(operation, status(err)).Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
