// Package metrics declares the engine's shared Prometheus collectors,
// following the promauto pattern used across the reference corpus's
// service metrics packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiermem_store_total",
			Help: "Total number of Memory Service store operations by outcome",
		},
		[]string{"outcome"},
	)

	RetrieveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tiermem_retrieve_duration_seconds",
			Help: "retrieve() latency in seconds",
		},
		[]string{"tier"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiermem_cache_hits_total",
			Help: "Tier cache hits by tier",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiermem_cache_misses_total",
			Help: "Tier cache misses by tier",
		},
		[]string{"tier"},
	)

	TierPopulation = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tiermem_tier_population",
			Help: "Current memory count per tier",
		},
		[]string{"tier"},
	)

	ConsolidationRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiermem_consolidation_runs_total",
			Help: "Total number of consolidation passes executed",
		},
	)

	ConsolidationMembersMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiermem_consolidation_members_merged_total",
			Help: "Total number of memories absorbed by a consolidation merge",
		},
	)

	EvolutionPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "tiermem_evolution_pass_duration_seconds",
			Help: "Evolution pass latency in seconds",
		},
	)

	TierTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiermem_tier_transitions_total",
			Help: "Total number of tier transitions by from/to tier",
		},
		[]string{"from", "to"},
	)

	LifecyclePassFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiermem_lifecycle_pass_failures_total",
			Help: "Total number of lifecycle passes that exhausted retries",
		},
	)

	CompressionRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "tiermem_compression_ratio",
			Help: "Observed compressed/original size ratio",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)
)
