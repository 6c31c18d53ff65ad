package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	feeCollections    *prometheus.CounterVec
	feeCollected      *prometheus.CounterVec
	feeRejections     *prometheus.CounterVec
	feeVerifications  prometheus.Counter
	sweepUpdates      prometheus.Counter
	sweepDuration     prometheus.Observer
	feeCollectLatency prometheus.Observer

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	collectionCount      uint64
	rejectionCount       uint64
	sweepUpdateCount     uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	feeCollections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_collections_total",
		Help: "Committed fee collections",
	}, []string{"payment_mode", "funding_kind"})

	feeCollected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_collected_amount_total",
		Help: "Sum of collected amounts in currency units",
	}, []string{"payment_mode"})

	feeRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_collection_rejections_total",
		Help: "Collections rejected by business rules",
	}, []string{"code"})

	feeVerifications := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_verifications_total",
		Help: "Collections verified by an administrator",
	})

	sweepUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_overdue_sweep_updates_total",
		Help: "Assignment status changes applied by the overdue sweep",
	})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fee_overdue_sweep_duration_seconds",
		Help:    "Duration of overdue sweeps",
		Buckets: prometheus.DefBuckets,
	})

	feeCollectLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fee_collect_duration_seconds",
		Help:    "Duration of the collect transaction",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		feeCollections, feeCollected, feeRejections, feeVerifications, sweepUpdates, sweepDuration, feeCollectLatency, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		feeCollections:    feeCollections,
		feeCollected:      feeCollected,
		feeRejections:     feeRejections,
		feeVerifications:  feeVerifications,
		sweepUpdates:      sweepUpdates,
		sweepDuration:     sweepDuration,
		feeCollectLatency: feeCollectLatency,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordCollection counts a committed collection.
func (m *MetricsService) RecordCollection(mode models.PaymentMode, kind models.FundingKind, amount decimal.Decimal, duration time.Duration) {
	if m == nil {
		return
	}
	m.feeCollections.WithLabelValues(string(mode), string(kind)).Inc()
	m.feeCollected.WithLabelValues(string(mode)).Add(amount.InexactFloat64())
	m.feeCollectLatency.Observe(duration.Seconds())
	atomic.AddUint64(&m.collectionCount, 1)
}

// RecordCollectionRejection counts a collection refused with the given error code.
func (m *MetricsService) RecordCollectionRejection(code string) {
	if m == nil {
		return
	}
	m.feeRejections.WithLabelValues(code).Inc()
	atomic.AddUint64(&m.rejectionCount, 1)
}

// RecordVerification counts an administrator verification.
func (m *MetricsService) RecordVerification() {
	if m == nil {
		return
	}
	m.feeVerifications.Inc()
}

// RecordOverdueSweep records the outcome of an overdue sweep.
func (m *MetricsService) RecordOverdueSweep(updated int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	if updated > 0 {
		m.sweepUpdates.Add(float64(updated))
		atomic.AddUint64(&m.sweepUpdateCount, uint64(updated))
	}
}

// Snapshot returns aggregated metrics suitable for JSON consumers.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		FeeCollections:           atomic.LoadUint64(&m.collectionCount),
		FeeCollectionRejections:  atomic.LoadUint64(&m.rejectionCount),
		OverdueSweepUpdates:      atomic.LoadUint64(&m.sweepUpdateCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
