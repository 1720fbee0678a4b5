package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parallel_sessions",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each stage, by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"stage", "outcome"},
	)

	stageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parallel_sessions",
			Subsystem: "pipeline",
			Name:      "stage_retries_total",
			Help:      "Retries taken inside a stage.",
		},
		[]string{"stage"},
	)

	gateWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parallel_sessions",
			Subsystem: "pipeline",
			Name:      "gate_wait_seconds",
			Help:      "Time sessions spent suspended waiting for an operator command.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"status"},
	)

	sessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parallel_sessions",
			Subsystem: "pipeline",
			Name:      "sessions_ended_total",
			Help:      "Sessions that reached a terminal status.",
		},
		[]string{"status"},
	)

	captchaSolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parallel_sessions",
			Subsystem: "pipeline",
			Name:      "captcha_solves_total",
			Help:      "Challenge solve attempts by the watchdog, by result.",
		},
		[]string{"result"},
	)
)

func recordStage(stage string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if _, ok := err.(*SoldOutError); ok {
			outcome = "sold_out"
		}
	}
	stageDuration.WithLabelValues(stage, outcome).Observe(time.Since(start).Seconds())
}
