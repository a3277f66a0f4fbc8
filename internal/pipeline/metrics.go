// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Renders counts page renders by result code ("ok" on success).
var Renders = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crumbhost_renders_total",
		Help: "Total number of plugin page renders by result",
	},
	[]string{"result"},
)

// RenderDuration observes end-to-end page render duration.
var RenderDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "crumbhost_render_duration_seconds",
		Help:    "Plugin page render duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// RegisterMetrics registers pipeline metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Renders)
	reg.MustRegister(RenderDuration)
}

func recordRender(result string, duration time.Duration) {
	Renders.WithLabelValues(result).Inc()
	RenderDuration.Observe(duration.Seconds())
}
