package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// prometheus 计数器，/metrics 由 web 层暴露
var (
	metricDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaguesync_reconcile_decisions_total",
		Help: "Reconciliation decisions by outcome.",
	}, []string{"decision"})

	metricValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaguesync_validation_failures_total",
		Help: "Inbound messages rejected by the schema validator.",
	})

	metricRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaguesync_retries_total",
		Help: "Transient-failure retries across all messages.",
	})

	metricDeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaguesync_dead_letters_total",
		Help: "Messages routed to the dead-letter channel.",
	})
)
