package classify

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/rolegrant/internal/event"
	"github.com/gyaneshwarpardhi/rolegrant/internal/identity"
)

// ErrMissingIdentityReference marks a completed-payment event whose payload
// carries no user reference. The checkout initiation flow is contractually
// required to set it, so its absence is an upstream defect — redelivery
// cannot fix it and it must not be retried.
var ErrMissingIdentityReference = errors.New("missing identity reference")

// Kind discriminates what, if anything, an event asks this service to do.
type Kind int

const (
	// KindIgnore: the event requires no state change. The provider sends
	// many event kinds this service does not act on.
	KindIgnore Kind = iota
	// KindReconcile: the event requires an entitlement mutation.
	KindReconcile
)

// Action is the classified form of a verified event. For KindReconcile,
// UserID and Mutation are set; both are pure functions of the event payload.
type Action struct {
	Kind     Kind
	UserID   string
	Mutation identity.Mutation
}

// Classifier maps verified events to actions.
type Classifier struct {
	grantRoles []string
}

// New creates a Classifier that grants the given roles on a completed
// checkout.
func New(grantRoles []string) (*Classifier, error) {
	if len(grantRoles) == 0 {
		return nil, errors.New("classify: at least one grant role is required")
	}
	return &Classifier{grantRoles: append([]string(nil), grantRoles...)}, nil
}

// Classify returns the action an event calls for.
//
// customer.subscription.deleted deliberately maps to Ignore: the mapping
// from a cancellation to an identity reference is not yet defined upstream,
// so revocation is not wired to it.
func (c *Classifier) Classify(ev *event.Event) (Action, error) {
	switch ev.Type {
	case event.TypeCheckoutCompleted:
		cs, err := ev.CheckoutSession()
		if err != nil {
			return Action{}, fmt.Errorf("%w: %v", ErrMissingIdentityReference, err)
		}
		if cs.ClientReferenceID == "" {
			return Action{}, fmt.Errorf("%w: event %s has no client_reference_id", ErrMissingIdentityReference, ev.ID)
		}
		return Action{
			Kind:     KindReconcile,
			UserID:   cs.ClientReferenceID,
			Mutation: identity.GrantRoles(c.grantRoles...),
		}, nil
	default:
		return Action{Kind: KindIgnore}, nil
	}
}
