// Package metrics exposes harvester activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
	"github.com/jonesrussell/north-cloud/harvester/internal/queue"
)

const (
	// Namespace is the namespace for all harvester metrics.
	Namespace = "harvester"

	defaultCollectInterval = 15 * time.Second
)

// Metrics holds every harvester collector. It satisfies both crawler.Recorder
// and orchestrator.Recorder.
type Metrics struct {
	registry prometheus.Gatherer

	// Crawl metrics
	PagesFetched     *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	FetchErrors      *prometheus.CounterVec
	RateLimitWaiting prometheus.Histogram

	// Orchestration metrics
	JobsDispatched *prometheus.CounterVec
	SourcesSettled *prometheus.CounterVec
	JobsFinalized  *prometheus.CounterVec

	// Runtime gauges
	QueueDepth  *prometheus.GaugeVec
	WorkersBusy prometheus.Gauge
	PoolSize    prometheus.Gauge
}

// New creates and registers the collectors on reg. A nil reg uses a fresh
// registry so tests and multiple instances never collide.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.initCrawlMetrics(factory)
	m.initJobMetrics(factory)
	m.initRuntimeMetrics(factory)

	return m
}

func (m *Metrics) initCrawlMetrics(factory promauto.Factory) {
	m.PagesFetched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "pages_fetched_total",
			Help:      "Total number of listing pages fetched",
		},
		[]string{"transport"},
	)

	m.FetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of successful page fetches",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"transport"},
	)

	m.FetchErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed fetches by error kind",
		},
		[]string{"kind"},
	)

	m.RateLimitWaiting = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the per-domain rate limiter",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsDispatched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "dispatched_total",
			Help:      "Total number of jobs dispatched",
		},
		[]string{"trigger"},
	)

	m.SourcesSettled = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "sources_settled_total",
			Help:      "Total number of source results settled",
		},
		[]string{"status"},
	)

	m.JobsFinalized = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "finalized_total",
			Help:      "Total number of jobs reaching a terminal status",
		},
		[]string{"status"},
	)
}

func (m *Metrics) initRuntimeMetrics(factory promauto.Factory) {
	m.QueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of work units in each priority lane",
		},
		[]string{"priority"},
	)

	m.WorkersBusy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "busy",
			Help:      "Number of workers running a unit",
		},
	)

	m.PoolSize = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "pool_size",
			Help:      "Configured number of workers",
		},
	)
}

// PageFetched records a successful page fetch.
func (m *Metrics) PageFetched(transport string, elapsed time.Duration) {
	m.PagesFetched.WithLabelValues(transport).Inc()
	m.FetchDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// FetchError records a failed fetch.
func (m *Metrics) FetchError(kind string) {
	m.FetchErrors.WithLabelValues(kind).Inc()
}

// RateLimitWait records time spent blocked on the rate limiter.
func (m *Metrics) RateLimitWait(waited time.Duration) {
	m.RateLimitWaiting.Observe(waited.Seconds())
}

// JobDispatched records a dispatched job.
func (m *Metrics) JobDispatched(origin domain.TriggerOrigin) {
	m.JobsDispatched.WithLabelValues(string(origin)).Inc()
}

// SourceSettled records a settled source result.
func (m *Metrics) SourceSettled(status domain.SourceResultStatus) {
	m.SourcesSettled.WithLabelValues(string(status)).Inc()
}

// JobFinalized records a job reaching a terminal status.
func (m *Metrics) JobFinalized(status domain.JobStatus) {
	m.JobsFinalized.WithLabelValues(string(status)).Inc()
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DepthSource reports per-lane queue depth. *queue.Producer and
// *queue.MemoryQueue satisfy it.
type DepthSource interface {
	QueueDepths(ctx context.Context) (map[queue.Priority]int64, error)
}

// PoolSource reports worker pool occupancy. *worker.Pool satisfies it.
type PoolSource interface {
	Size() int
	BusyCount() int
}

// Collect refreshes the runtime gauges every interval until ctx is done.
// Either source may be nil.
func (m *Metrics) Collect(ctx context.Context, depths DepthSource, pool PoolSource, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		interval = defaultCollectInterval
	}
	if log == nil {
		log = logger.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.collectOnce(ctx, depths, pool, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Metrics) collectOnce(ctx context.Context, depths DepthSource, pool PoolSource, log logger.Logger) {
	if pool != nil {
		m.PoolSize.Set(float64(pool.Size()))
		m.WorkersBusy.Set(float64(pool.BusyCount()))
	}
	if depths == nil {
		return
	}
	values, err := depths.QueueDepths(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("Failed to read queue depths", logger.Error(err))
		}
		return
	}
	for lane, n := range values {
		m.QueueDepth.WithLabelValues(lane.String()).Set(float64(n))
	}
}
