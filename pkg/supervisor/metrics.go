package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parallel_sessions",
		Name:      "runs_started_total",
		Help:      "Runs started.",
	})
	sessionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parallel_sessions",
		Name:      "sessions_in_flight",
		Help:      "Sessions whose pipeline is currently running.",
	})
	commandsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parallel_sessions",
		Name:      "commands_total",
		Help:      "Operator commands received, by outcome.",
	}, []string{"outcome"})
)
