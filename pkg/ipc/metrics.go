package ipc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	observersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parallel_sessions",
		Subsystem: "ipc",
		Name:      "observers_active",
		Help:      "Websocket observers currently attached.",
	})
	observersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parallel_sessions",
		Subsystem: "ipc",
		Name:      "observers_dropped_total",
		Help:      "Observers dropped by the hub, by reason.",
	}, []string{"reason"})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parallel_sessions",
		Subsystem: "ipc",
		Name:      "http_requests_total",
		Help:      "Control API requests by method, route and status.",
	}, []string{"method", "route", "status"})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parallel_sessions",
		Subsystem: "ipc",
		Name:      "http_request_duration_seconds",
		Help:      "Control API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
