// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package artifact

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Lookup results for cache metrics.
const (
	LookupHit    = "hit"
	LookupMiss   = "miss"
	LookupShared = "shared"
)

// CacheLookups counts Resolve calls by how they were served.
var CacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crumbhost_cache_lookups_total",
		Help: "Total number of artifact cache lookups by result",
	},
	[]string{"result"},
)

// CacheEntries tracks the number of artifacts held by the cache.
var CacheEntries = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "crumbhost_cache_entries",
		Help: "Number of plugin artifacts currently cached",
	},
)

// Fetches counts remote fetches by outcome code ("ok" on success).
var Fetches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crumbhost_fetches_total",
		Help: "Total number of plugin artifact fetches by result",
	},
	[]string{"result"},
)

// FetchDuration observes how long a full artifact fetch took.
var FetchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "crumbhost_fetch_duration_seconds",
		Help:    "Plugin artifact fetch duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// RegisterMetrics registers artifact package metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CacheLookups)
	reg.MustRegister(CacheEntries)
	reg.MustRegister(Fetches)
	reg.MustRegister(FetchDuration)
}

func recordLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

func recordFetch(result string, duration time.Duration) {
	Fetches.WithLabelValues(result).Inc()
	FetchDuration.Observe(duration.Seconds())
}
