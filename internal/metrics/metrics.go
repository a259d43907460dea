// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts finished turns by intent and outcome.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlagent_turns_total",
		Help: "Finished turns by intent and outcome.",
	}, []string{"intent", "outcome"})

	// SQLAttemptsTotal counts SQL loop attempts by outcome.
	SQLAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlagent_sql_attempts_total",
		Help: "SQL generate/validate/execute attempts by outcome.",
	}, []string{"outcome"})

	// LLMCallsTotal counts model calls by mode (complete, stream) and status.
	LLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlagent_llm_calls_total",
		Help: "LLM calls by mode and status.",
	}, []string{"mode", "status"})

	// QueryDuration observes query execution latency per database key.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sqlagent_query_duration_seconds",
		Help:    "Business query latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"db_key"})
)
