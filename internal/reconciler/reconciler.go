package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/rolegrant/internal/classify"
	"github.com/gyaneshwarpardhi/rolegrant/internal/identity"
	"github.com/gyaneshwarpardhi/rolegrant/internal/metrics"
	"github.com/gyaneshwarpardhi/rolegrant/internal/retry"
	"github.com/gyaneshwarpardhi/rolegrant/internal/signature"
)

// Disposition tells the transport layer how to answer the event source.
type Disposition int

const (
	// Acked: respond 200 so the source marks the delivery handled. Covers
	// success, ignored events, and upstream data-integrity defects that
	// redelivery cannot fix.
	Acked Disposition = iota
	// Rejected: respond with a client error; the delivery could not be
	// authenticated and is not acknowledged.
	Rejected
	// RetryLater: respond with a server error so the source's own
	// redelivery gives the reconciliation another full attempt sequence.
	RetryLater
)

// Report is the audit-level record of one processed delivery.
type Report struct {
	Disposition Disposition
	DeliveryID  string
	EventType   string
	UserID      string
	Result      string
	Attempts    int
	Err         error
}

// Reconciler wires verification, classification, and the retried mutation
// into one stateless pipeline. Instances are immutable; config reloads swap
// in a fresh one.
type Reconciler struct {
	verifier   *signature.Verifier
	classifier *classify.Classifier
	store      *identity.Client
	controller *retry.Controller
	logger     *slog.Logger
}

// New assembles a Reconciler.
func New(
	verifier *signature.Verifier,
	classifier *classify.Classifier,
	store *identity.Client,
	controller *retry.Controller,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		verifier:   verifier,
		classifier: classifier,
		store:      store,
		controller: controller,
		logger:     logger,
	}
}

// Process handles one inbound delivery end to end. deliveryID correlates
// log lines for this delivery; body and sigHeader are the raw transport
// inputs, untouched since receipt.
func (r *Reconciler) Process(ctx context.Context, deliveryID string, body []byte, sigHeader string) Report {
	start := time.Now()
	metrics.DeliveriesReceived.Inc()
	log := r.logger.With("delivery_id", deliveryID)

	ev, err := r.verifier.Verify(body, sigHeader)
	if err != nil {
		metrics.DeliveriesRejected.Inc()
		// The reason is logged, never echoed to the caller, so signature
		// mismatches stay diagnosable without leaking material.
		log.Warn("delivery rejected", "err", err)
		return Report{Disposition: Rejected, DeliveryID: deliveryID, Result: "rejected", Err: err}
	}
	log = log.With("event_id", ev.ID, "event_type", ev.Type)

	action, err := r.classifier.Classify(ev)
	if err != nil {
		// Upstream data-integrity defect: ack so the source stops
		// redelivering, but surface it loudly for operators.
		if errors.Is(err, classify.ErrMissingIdentityReference) {
			metrics.Reconciliations.WithLabelValues("missing_identity").Inc()
			log.Error("completed payment carries no identity reference", "err", err)
			return Report{Disposition: Acked, DeliveryID: deliveryID, EventType: ev.Type, Result: "missing_identity", Err: err}
		}
		metrics.Reconciliations.WithLabelValues("classify_error").Inc()
		log.Error("classification failed", "err", err)
		return Report{Disposition: RetryLater, DeliveryID: deliveryID, EventType: ev.Type, Result: "classify_error", Err: err}
	}

	if action.Kind == classify.KindIgnore {
		metrics.EventsIgnored.WithLabelValues(ev.Type).Inc()
		log.Info("event ignored, no action required")
		return Report{Disposition: Acked, DeliveryID: deliveryID, EventType: ev.Type, Result: "ignored"}
	}

	log = log.With("user_id", action.UserID)
	result := r.controller.Run(ctx, func(ctx context.Context) retry.Outcome {
		out := r.store.Apply(ctx, action.UserID, action.Mutation)
		metrics.MutationAttempts.WithLabelValues(out.Class.String()).Inc()
		if out.Class != retry.ClassSuccess {
			log.Warn("mutation attempt failed",
				"class", out.Class.String(), "status", out.Status, "reason", out.Reason)
		}
		return out
	})

	metrics.Reconciliations.WithLabelValues(result.State.String()).Inc()
	metrics.ReconcileAttempts.Observe(float64(result.Attempts))
	metrics.ReconcileDuration.Observe(float64(time.Since(start).Milliseconds()))

	rep := Report{
		DeliveryID: deliveryID,
		EventType:  ev.Type,
		UserID:     action.UserID,
		Result:     result.State.String(),
		Attempts:   result.Attempts,
	}
	switch result.State {
	case retry.Succeeded:
		rep.Disposition = Acked
		log.Info("entitlement reconciled", "attempts", result.Attempts)
	case retry.FailedTerminal:
		// Downstream rejection: signal failure so the source redelivers
		// once an operator has fixed credentials or the store.
		rep.Disposition = RetryLater
		log.Error("reconciliation failed terminally",
			"attempts", result.Attempts, "status", result.Last.Status, "reason", result.Last.Reason)
	case retry.FailedExhausted:
		rep.Disposition = RetryLater
		log.Error("reconciliation attempts exhausted",
			"attempts", result.Attempts, "status", result.Last.Status, "reason", result.Last.Reason)
	}
	return rep
}
