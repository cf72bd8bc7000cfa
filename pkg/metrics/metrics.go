// Package metrics exposes Prometheus collectors for crawl activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records crawl events into its own registry. A nil Collector
// is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	pages        *prometheus.CounterVec
	items        *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	penalties    prometheus.Counter
	phase        *prometheus.GaugeVec
	crawls       *prometheus.CounterVec
	captured     prometheus.Gauge
}

var phases = []string{"INIT", "FETCH_TOP_LEVEL", "FETCH_REPLIES", "FINALIZE", "DONE", "ABORTED"}

// NewCollector creates a collector with a private registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igcomments_pages_total",
				Help: "Total number of pages merged, labeled by context kind.",
			},
			[]string{"context"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igcomments_page_items_total",
				Help: "Total number of items delivered in merged pages, labeled by context kind.",
			},
			[]string{"context"},
		),
		pageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "igcomments_page_duration_seconds",
				Help:    "Histogram of page fetch and merge latencies including pacing.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"context"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igcomments_retries_total",
				Help: "Total number of page retries, labeled by error type.",
			},
			[]string{"error_type"},
		),
		penalties: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "igcomments_rate_limit_penalties_total",
				Help: "Total number of rate-limit signals received from the API.",
			},
		),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "igcomments_phase",
				Help: "Current crawl phase; the active phase is 1.",
			},
			[]string{"phase"},
		),
		crawls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igcomments_crawls_total",
				Help: "Total number of finished crawls, labeled by status and stop reason.",
			},
			[]string{"status", "stop_reason"},
		),
		captured: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "igcomments_items_captured",
				Help: "Items captured so far by the current crawl.",
			},
		),
	}

	c.registry.MustRegister(
		c.pages, c.items, c.pageDuration, c.retries, c.penalties, c.phase, c.crawls, c.captured,
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry returns the registry holding every collector
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObservePage records a merged page
func (c *Collector) ObservePage(contextKind string, items, total int, duration time.Duration) {
	if c == nil {
		return
	}
	c.captured.Set(float64(total))
	c.pages.WithLabelValues(contextKind).Inc()
	c.items.WithLabelValues(contextKind).Add(float64(items))
	c.pageDuration.WithLabelValues(contextKind).Observe(duration.Seconds())
}

// ObserveRetry records a page retry
func (c *Collector) ObserveRetry(errorType string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(errorType).Inc()
}

// ObservePenalty records a rate-limit signal
func (c *Collector) ObservePenalty() {
	if c == nil {
		return
	}
	c.penalties.Inc()
}

// ObservePhase marks phase as the active one
func (c *Collector) ObservePhase(phase string) {
	if c == nil {
		return
	}
	for _, p := range phases {
		c.phase.WithLabelValues(p).Set(0)
	}
	c.phase.WithLabelValues(phase).Set(1)
}

// ObserveFinish records the outcome of a crawl
func (c *Collector) ObserveFinish(status, stopReason string, items int) {
	if c == nil {
		return
	}
	c.crawls.WithLabelValues(status, stopReason).Inc()
	c.captured.Set(float64(items))
}
