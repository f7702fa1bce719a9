// Package metrics exposes Prometheus collectors for the crawl and ingest services.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest message results.
const (
	ResultOK          = "ok"
	ResultDecodeError = "decode_error"
	ResultUnroutable  = "unroutable"
	ResultMalformed   = "malformed"
	ResultPersistFail = "persist_error"
)

var (
	crawlURLsTotal             *prometheus.CounterVec
	crawlPagesTotal            prometheus.Counter
	crawlRetriesTotal          *prometheus.CounterVec
	crawlActiveWorkers         prometheus.Gauge
	ingestMessagesTotal        *prometheus.CounterVec
	ingestRowsPersistedTotal   *prometheus.CounterVec
	ingestRowsSkippedTotal     *prometheus.CounterVec
	ingestDurationSeconds      prometheus.Histogram
	statusEventsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_crawl_urls_total",
				Help: "Work items that reached a terminal crawl status, labeled by status.",
			},
			[]string{"status"},
		)

		crawlPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listings_crawl_pages_total",
				Help: "Raw page payloads published to the payload topic.",
			},
		)

		crawlRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_crawl_retries_total",
				Help: "Retried browser operations, labeled by stage.",
			},
			[]string{"stage"},
		)

		crawlActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "listings_crawl_active_workers",
				Help: "Number of crawl workers currently holding a browser session.",
			},
		)

		ingestMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_ingest_messages_total",
				Help: "Payload messages handled by the ingest service, labeled by result.",
			},
			[]string{"result"},
		)

		ingestRowsPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_rows_persisted_total",
				Help: "Property records written, labeled by destination table.",
			},
			[]string{"table"},
		)

		ingestRowsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_rows_skipped_total",
				Help: "Listing rows rejected by validation, labeled by field and reason.",
			},
			[]string{"field", "reason"},
		)

		ingestDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "listings_ingest_duration_seconds",
				Help:    "Histogram of per-message ingest latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		statusEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_status_events_total",
				Help: "Status events applied to the work list, labeled by status and result.",
			},
			[]string{"status", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder adapts the package collectors to the interfaces consumed by the
// worker, ingest, and tracker packages.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// ObserveURL counts a work item that reached status.
func (Recorder) ObserveURL(status string) {
	crawlURLsTotal.WithLabelValues(status).Inc()
}

// ObservePage counts a published page payload.
func (Recorder) ObservePage() {
	crawlPagesTotal.Inc()
}

// ObserveRetry counts a retried browser operation.
func (Recorder) ObserveRetry(stage string) {
	crawlRetriesTotal.WithLabelValues(stage).Inc()
}

// WorkerStarted increments the active workers gauge.
func (Recorder) WorkerStarted() {
	crawlActiveWorkers.Inc()
}

// WorkerStopped decrements the active workers gauge.
func (Recorder) WorkerStopped() {
	crawlActiveWorkers.Dec()
}

// ObserveMessage counts an ingest message by result and records its latency.
func (Recorder) ObserveMessage(result string, duration time.Duration) {
	ingestMessagesTotal.WithLabelValues(result).Inc()
	ingestDurationSeconds.Observe(duration.Seconds())
}

// ObservePersisted counts records written to table.
func (Recorder) ObservePersisted(table string, n int) {
	if n > 0 {
		ingestRowsPersistedTotal.WithLabelValues(table).Add(float64(n))
	}
}

// ObserveSkipped counts a row rejected by validation.
func (Recorder) ObserveSkipped(field, reason string) {
	ingestRowsSkippedTotal.WithLabelValues(field, reason).Inc()
}

// ObserveStatusEvent counts a status event applied to the work list.
func (Recorder) ObserveStatusEvent(status, result string) {
	statusEventsTotal.WithLabelValues(status, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
