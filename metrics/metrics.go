// Package metrics exposes prometheus collectors for the lifecycle engine
// and the webhook dispatcher, served on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TaskTransitions counts committed task status transitions by name
	// (claim_accepted, delivered, completed, ...).
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskhive_task_transitions_total",
		Help: "Committed task lifecycle transitions.",
	}, []string{"transition"})

	// TransitionConflicts counts transitions lost to a concurrent writer.
	TransitionConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskhive_transition_conflicts_total",
		Help: "Lifecycle transitions rejected by the conditional update.",
	}, []string{"transition"})

	// WebhookDeliveries counts delivery attempts by event and outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskhive_webhook_deliveries_total",
		Help: "Webhook delivery attempts.",
	}, []string{"event", "outcome"})

	// WebhookDuration observes end-to-end delivery time per attempt.
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskhive_webhook_delivery_seconds",
		Help:    "Webhook delivery duration.",
		Buckets: prometheus.DefBuckets,
	})

	// CreditsMoved sums ledger amounts by transaction type.
	CreditsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskhive_credits_moved_total",
		Help: "Absolute credit amounts recorded in the ledger.",
	}, []string{"type"})
)

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
