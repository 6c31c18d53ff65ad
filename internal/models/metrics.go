package models

import "time"

// SystemMetrics is a lightweight JSON snapshot of the Prometheus counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	FeeCollections           uint64    `json:"fee_collections"`
	FeeCollectionRejections  uint64    `json:"fee_collection_rejections"`
	OverdueSweepUpdates      uint64    `json:"overdue_sweep_updates"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
