package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rolegrant_deliveries_received_total",
		Help: "Total number of inbound event deliveries.",
	})

	DeliveriesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rolegrant_deliveries_rejected_total",
		Help: "Total number of deliveries rejected at signature verification.",
	})

	EventsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolegrant_events_ignored_total",
		Help: "Total number of verified events requiring no action, labelled by event type.",
	}, []string{"event_type"})

	MutationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolegrant_mutation_attempts_total",
		Help: "Total number of identity store mutation attempts, labelled by outcome class.",
	}, []string{"class"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolegrant_reconciliations_total",
		Help: "Total number of completed reconciliation runs, labelled by result.",
	}, []string{"result"})

	ReconcileAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rolegrant_reconcile_attempts",
		Help:    "Mutation attempts needed per reconciliation run.",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rolegrant_reconcile_duration_ms",
		Help:    "End-to-end reconciliation latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000, 30000},
	})

	CheckoutSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolegrant_checkout_sessions_total",
		Help: "Total number of checkout session initiations, labelled by status.",
	}, []string{"status"})
)
