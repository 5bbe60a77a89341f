package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal counts chain RPC calls by method, retries included
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltynode_rpc_calls_total",
			Help: "Total number of chain RPC calls",
		},
		[]string{"method"},
	)

	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltynode_rpc_errors_total",
			Help: "Total number of failed chain RPC calls",
		},
		[]string{"method"},
	)

	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "royaltynode_rpc_latency_seconds",
			Help:    "Chain RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// SourceFailuresTotal counts event sources that contributed zero records because their query failed
	SourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltynode_source_failures_total",
			Help: "Total number of failed event source queries",
		},
		[]string{"source"},
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltynode_refreshes_total",
			Help: "Total number of cache refreshes by outcome",
		},
		[]string{"namespace", "outcome"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltynode_cache_lookups_total",
			Help: "Total number of cache lookups by entry state",
		},
		[]string{"namespace", "state"},
	)

	EnrichmentDefaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltynode_enrichment_defaults_total",
			Help: "Total number of enrichment lookups that fell back to defaults",
		},
		[]string{"field"},
	)

	// IgnoredEventsTotal counts decoded events left out of every view
	IgnoredEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltynode_ignored_events_total",
			Help: "Total number of decoded events ignored by reason",
		},
		[]string{"reason"},
	)

	SignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royaltynode_signals_total",
			Help: "Total number of refresh signals received",
		},
		[]string{"origin"},
	)
)
