package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types this service acts on or deliberately ignores.
const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is the verified, decoded form of an inbound payment notification.
// It only exists after signature verification succeeds; raw deliveries are
// passed around as []byte until then.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"` // unix seconds, set by the provider
	Data    Data   `json:"data"`
}

// Data wraps the provider-specific payload. Object is kept raw because its
// shape depends on Type; callers decode it through typed accessors.
type Data struct {
	Object json.RawMessage `json:"object"`
}

// CheckoutSession is the payload of a checkout.session.completed event,
// reduced to the fields this service reads.
type CheckoutSession struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	PaymentStatus     string `json:"payment_status"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
}

// OccurredAt returns the provider-side creation time of the event.
func (e *Event) OccurredAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// CheckoutSession decodes data.object as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	if len(e.Data.Object) == 0 {
		return nil, fmt.Errorf("event %s: data.object is empty", e.ID)
	}
	var cs CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &cs); err != nil {
		return nil, fmt.Errorf("event %s: decode checkout session: %w", e.ID, err)
	}
	return &cs, nil
}
