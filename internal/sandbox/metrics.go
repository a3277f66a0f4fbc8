// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package sandbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Evaluations counts sandboxed calls by phase and result code ("ok" on success).
var Evaluations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crumbhost_sandbox_calls_total",
		Help: "Total number of sandboxed plugin calls by phase and result",
	},
	[]string{"phase", "result"},
)

// EvaluationDuration observes sandboxed call duration by phase.
var EvaluationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "crumbhost_sandbox_call_duration_seconds",
		Help:    "Sandboxed plugin call duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"phase"},
)

// RegisterMetrics registers sandbox metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Evaluations)
	reg.MustRegister(EvaluationDuration)
}

// RecordCall records the outcome of one sandboxed call.
func RecordCall(phase, result string, duration time.Duration) {
	Evaluations.WithLabelValues(phase, result).Inc()
	EvaluationDuration.WithLabelValues(phase).Observe(duration.Seconds())
}
