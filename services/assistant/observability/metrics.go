// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the assistant
// orchestration engine.
//
// # Description
//
// Metrics cover the query pipeline end to end:
//   - Query counters by terminal status
//   - Run attempt counters by outcome, plus a dedicated retry counter
//   - Query duration histogram
//   - Thread creation counter by visibility
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "navigator"

const assistantSubsystem = "assistant"

// AssistantMetrics holds all Prometheus metrics for assistant queries.
// Initialize once at startup via InitMetrics.
type AssistantMetrics struct {
	// QueriesTotal counts assistant queries by terminal status.
	// Labels: status (success, not_provisioned, run_exhausted, no_reply, error)
	QueriesTotal *prometheus.CounterVec

	// RunAttemptsTotal counts individual run attempts by outcome.
	// Labels: outcome (completed, retryable, terminal)
	RunAttemptsTotal *prometheus.CounterVec

	// RunRetriesTotal counts backoff-and-retry decisions.
	RunRetriesTotal prometheus.Counter

	// QueryDurationSeconds measures full query duration.
	// Labels: status (success, error)
	QueryDurationSeconds *prometheus.HistogramVec

	// ThreadsCreatedTotal counts new durable threads by visibility.
	// Labels: visibility (owner, superadmin_only, shared)
	ThreadsCreatedTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance. Initialized by InitMetrics.
var DefaultMetrics *AssistantMetrics

// InitMetrics creates and registers all metrics against the default
// registry. Call once at application startup; a second call panics on
// duplicate registration.
func InitMetrics() *AssistantMetrics {
	DefaultMetrics = &AssistantMetrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "queries_total",
				Help:      "Total assistant queries by terminal status",
			},
			[]string{"status"},
		),

		RunAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "run_attempts_total",
				Help:      "Total run attempts by outcome",
			},
			[]string{"outcome"},
		),

		RunRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "run_retries_total",
				Help:      "Total run retries after a retryable outcome",
			},
		),

		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "query_duration_seconds",
				Help:      "Full assistant query duration in seconds",
				Buckets:   []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"status"},
		),

		ThreadsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "threads_created_total",
				Help:      "Total durable threads created by visibility",
			},
			[]string{"visibility"},
		),
	}
	return DefaultMetrics
}

// RecordQuery increments the query counter and observes duration.
func (m *AssistantMetrics) RecordQuery(status string, seconds float64) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(status).Inc()
	durationStatus := "error"
	if status == "success" {
		durationStatus = "success"
	}
	m.QueryDurationSeconds.WithLabelValues(durationStatus).Observe(seconds)
}

// RecordRunAttempt increments the attempt counter for one outcome.
func (m *AssistantMetrics) RecordRunAttempt(outcome string) {
	if m == nil {
		return
	}
	m.RunAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetry increments the retry counter.
func (m *AssistantMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RunRetriesTotal.Inc()
}

// RecordThreadCreated increments the thread counter for one visibility.
func (m *AssistantMetrics) RecordThreadCreated(visibility string) {
	if m == nil {
		return
	}
	m.ThreadsCreatedTotal.WithLabelValues(visibility).Inc()
}
