package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFF.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	apiRequests      *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	apiFailures      *prometheus.CounterVec
	historyEvictions prometheus.Counter
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	retries          *prometheus.CounterVec
	activeStreams    prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_api_requests_total",
				Help: "Total upstream API transport attempts by method and HTTP status (0 = no response).",
			},
			[]string{"method", "status"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bff_api_request_duration_seconds",
				Help:    "Duration of upstream API calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		apiFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_api_failures_total",
				Help: "Total failed API calls by normalized error name.",
			},
			[]string{"name"},
		),
		historyEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bff_history_evictions_total",
				Help: "Entries evicted from the diagnostic history buffer.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_cache_hits_total",
				Help: "Total query cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_cache_misses_total",
				Help: "Total query cache misses.",
			},
			[]string{"cache"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_query_retries_total",
				Help: "Total retried query attempts.",
			},
			[]string{"operation"},
		),
		activeStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bff_active_streams",
				Help: "Streaming responses currently being relayed.",
			},
		),
	}
}

// RecordAPIRequest records one transport attempt.
func (m *Metrics) RecordAPIRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncrAPIFailure counts a normalized failure by error name.
func (m *Metrics) IncrAPIFailure(name string) {
	if m == nil {
		return
	}
	m.apiFailures.WithLabelValues(name).Inc()
}

// IncrHistoryEviction counts one evicted history entry.
func (m *Metrics) IncrHistoryEviction() {
	if m == nil {
		return
	}
	m.historyEvictions.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrRetry counts a retried attempt.
func (m *Metrics) IncrRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// StreamStarted and StreamFinished track relayed streams.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

// Counters is a point-in-time read of the diagnostic counters.
type Counters struct {
	Requests  float64
	Failures  float64
	Evicted   float64
	CacheHits float64
}

// Snapshot reads the current counter values for the diagnostics endpoint.
func (m *Metrics) Snapshot() Counters {
	if m == nil {
		return Counters{}
	}
	return Counters{
		Requests:  sumCounters(m.apiRequests),
		Failures:  sumCounters(m.apiFailures),
		Evicted:   counterValue(m.historyEvictions),
		CacheHits: sumCounters(m.cacheHits),
	}
}

// sumCounters adds up every child of a CounterVec.
func sumCounters(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	total := float64(0)
	for metric := range ch {
		total += readCounter(metric)
	}
	return total
}

func counterValue(c prometheus.Counter) float64 {
	return readCounter(c)
}

// readCounter extracts the current float64 value of a counter metric.
func readCounter(metric prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := metric.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
