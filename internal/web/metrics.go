// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package web

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Requests counts inbound requests by route and status code.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crumbhost_http_requests_total",
		Help: "Total number of HTTP requests by route and status",
	},
	[]string{"route", "status"},
)

// RequestDuration observes request handling time by route.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "crumbhost_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route"},
)

// RateLimited counts requests rejected by the rate limiter.
var RateLimited = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "crumbhost_http_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	},
)

// RegisterMetrics registers web metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Requests)
	reg.MustRegister(RequestDuration)
	reg.MustRegister(RateLimited)
	reg.MustRegister(rateLimitClients)
}

func recordRequest(route string, status int, duration time.Duration) {
	Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
