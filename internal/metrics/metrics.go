// Package metrics exposes Prometheus collectors for an ingestion run.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/scraperhose/internal/orchestrator"
	"github.com/JakeFAU/scraperhose/internal/sampler"
	"github.com/JakeFAU/scraperhose/internal/stats"
)

// Metrics owns the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	feedsTotal            *prometheus.CounterVec
	feedDurationSeconds   *prometheus.HistogramVec
	batchArticlesTotal    prometheus.Counter
	batchInsertedTotal    prometheus.Counter
	batchDurationSeconds  prometheus.Histogram
	rateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
}

// New registers the event collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		feedsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraperhose_feeds_total",
				Help: "Feeds completed, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		feedDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraperhose_feed_duration_seconds",
				Help:    "Wall time spent on one feed, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		batchArticlesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraperhose_batch_articles_total",
			Help: "Articles handed to the store.",
		}),
		batchInsertedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraperhose_batch_inserted_total",
			Help: "Articles the store actually inserted.",
		}),
		batchDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraperhose_batch_insert_duration_seconds",
			Help:    "Histogram of bulk insert latencies.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		rateLimitDelaySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraperhose_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// StatusSource reports run progress.
type StatusSource interface {
	Status() orchestrator.Status
}

// ResourceSource reports sampled process resources.
type ResourceSource interface {
	Snapshot() sampler.Resources
}

// SlotSource reports admission state.
type SlotSource interface {
	Ceiling() int
	InFlight() int
}

// Sources are read at scrape time. Nil fields are skipped.
type Sources struct {
	Recorder  *stats.Recorder
	Slots     SlotSource
	Resources ResourceSource
	Status    StatusSource
}

// RegisterSources adds scrape-time gauges and counters backed by src.
func (m *Metrics) RegisterSources(src Sources) {
	factory := promauto.With(m.registry)
	if r := src.Recorder; r != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "scraperhose_articles_extracted_total",
			Help: "Articles extracted since start.",
		}, func() float64 { return float64(r.GrandTotal()) })
		factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "scraperhose_articles_already_seen_total",
			Help: "URLs skipped because they were already known.",
		}, func() float64 { return float64(r.AlreadySeen()) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraperhose_articles_this_hour",
			Help: "Articles extracted in the current wall-clock hour.",
		}, func() float64 { return float64(r.PerHour()) })
	}
	if s := src.Slots; s != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraperhose_admission_ceiling",
			Help: "Concurrency ceiling of the active tier.",
		}, func() float64 { return float64(s.Ceiling()) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraperhose_admission_in_flight",
			Help: "Slots currently held.",
		}, func() float64 { return float64(s.InFlight()) })
	}
	if res := src.Resources; res != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraperhose_cpu_percent",
			Help: "Process CPU usage over the last sample, normalised by cores.",
		}, func() float64 { return res.Snapshot().CPUPercent })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraperhose_memory_mb",
			Help: "Process resident memory in MB at the last sample.",
		}, func() float64 { return res.Snapshot().MemoryMB })
	}
	if st := src.Status; st != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraperhose_feeds_processed",
			Help: "Feeds completed so far.",
		}, func() float64 { return float64(st.Status().Processed) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scraperhose_feeds_planned",
			Help: "Feeds in this run after skipping.",
		}, func() float64 { return float64(st.Status().Total) })
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FeedCompleted records one finished feed.
func (m *Metrics) FeedCompleted(outcome string, d time.Duration) {
	m.feedsTotal.WithLabelValues(outcome).Inc()
	m.feedDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// BatchPersisted records one bulk insert.
func (m *Metrics) BatchPersisted(articles int, inserted int64, d time.Duration) {
	m.batchArticlesTotal.Add(float64(articles))
	m.batchInsertedTotal.Add(float64(inserted))
	m.batchDurationSeconds.Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func (m *Metrics) ObserveRateLimitDelay(domain string, d time.Duration) {
	m.rateLimitDelaySeconds.WithLabelValues(SanitizeSite(domain)).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
