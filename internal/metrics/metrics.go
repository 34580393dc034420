package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message pipeline metrics
	MessagesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "symbiotic_messages_submitted_total",
			Help: "Total number of messages submitted to the orchestrator",
		},
	)

	MessagesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_messages_completed_total",
			Help: "Total number of messages that reached a terminal status",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "symbiotic_queue_depth",
			Help: "Current number of messages waiting in the priority queue",
		},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "symbiotic_dispatch_duration_ms",
			Help:    "Message dispatch duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"agent_id"},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent_id", "status"},
	)

	AgentRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_agent_recoveries_total",
			Help: "Total number of agent recovery attempts",
		},
		[]string{"agent_id", "outcome"},
	)

	// Classifier metrics
	ClassifierCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "symbiotic_classifier_cache_hits_total",
			Help: "Total number of classifier cache hits",
		},
	)

	ClassifierCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "symbiotic_classifier_cache_misses_total",
			Help: "Total number of classifier cache misses",
		},
	)

	ClassifierCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "symbiotic_classifier_cache_evictions_total",
			Help: "Total number of classifications evicted from the FIFO cache",
		},
	)

	ClassificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "symbiotic_classification_latency_seconds",
			Help:    "Provider classification latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Two-tier cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "symbiotic_cache_misses_total",
			Help: "Total number of cache misses across both tiers",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "symbiotic_cache_evictions_total",
			Help: "Total number of expired entries evicted by sweep or lazy read",
		},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "symbiotic_cache_size",
			Help: "Current number of entries in the in-memory cache tier",
		},
	)

	// Token/cost metrics
	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_tokens_used_total",
			Help: "Total tokens recorded per agent and model",
		},
		[]string{"agent_id", "model"},
	)

	CostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_cost_usd_total",
			Help: "Accrued cost in USD per model",
		},
		[]string{"model"},
	)

	BudgetAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "symbiotic_budget_alerts_total",
			Help: "Total number of budget alerts raised",
		},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_pricing_fallback_total",
			Help: "Total number of pricing fallbacks (missing/unknown model)",
		},
		[]string{"reason"},
	)

	// Health metrics
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_health_checks_total",
			Help: "Total number of agent health probes",
		},
		[]string{"agent_id", "result"},
	)

	HealthCheckLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "symbiotic_health_check_latency_seconds",
			Help:    "Agent health probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent_id"},
	)

	// Error handling metrics
	ErrorsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_errors_handled_total",
			Help: "Total number of errors routed through the error handler",
		},
		[]string{"severity"},
	)

	ErrorStorms = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_error_storms_total",
			Help: "Total number of error storm escalations by pattern",
		},
		[]string{"pattern"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symbiotic_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"source", "severity"},
	)
)

// RecordDispatch records metrics for one completed dispatch.
func RecordDispatch(agentID, status string, durationMs float64) {
	AgentExecutions.WithLabelValues(agentID, status).Inc()
	DispatchDuration.WithLabelValues(agentID).Observe(durationMs)
}

// RecordTokenUsage records token spend for an agent/model pair.
func RecordTokenUsage(agentID, model string, tokens int, costUSD float64) {
	if tokens > 0 {
		TokensUsed.WithLabelValues(agentID, model).Add(float64(tokens))
	}
	if costUSD > 0 {
		CostUSD.WithLabelValues(model).Add(costUSD)
	}
}
