package types

import "encoding/json"

// EventKind is the gateway-agnostic classification of a webhook event.
type EventKind string

const (
	EventCheckoutCompleted    EventKind = "checkout_completed"
	EventPaymentFailed        EventKind = "payment_failed"
	EventSubscriptionCanceled EventKind = "subscription_canceled"
	EventUnrecognized         EventKind = "unrecognized"
)

// RawGatewayEvent is a verified but uninterpreted webhook envelope.
type RawGatewayEvent struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Created  int64           `json:"created"`
	Livemode bool            `json:"livemode"`
	Object   json.RawMessage `json:"object"`
}

// SubscriptionEvent is the normalized form the reconciliation engine consumes.
// Sequence is the ordering marker: the creation second scaled by ten plus a
// per-kind rank, so same-second events of different kinds stay ordered.
type SubscriptionEvent struct {
	Kind                   EventKind `json:"kind"`
	EventID                string    `json:"event_id,omitempty"`
	RawType                string    `json:"raw_type,omitempty"`
	UserID                 string    `json:"user_id,omitempty"`
	Plan                   PlanName  `json:"plan,omitempty"`
	ExternalSubscriptionID string    `json:"external_subscription_id,omitempty"`
	Sequence               int64     `json:"sequence"`
}

// RoutingKey returns the identifier that serializes events for one record:
// the user when known, otherwise the external subscription.
func (e SubscriptionEvent) RoutingKey() string {
	if e.UserID != "" {
		return e.UserID
	}
	if e.ExternalSubscriptionID != "" {
		return e.ExternalSubscriptionID
	}
	return string(e.Kind)
}

// SubscriptionChange is published after a transition is committed.
type SubscriptionChange struct {
	ID             string             `json:"id"`
	EventID        string             `json:"event_id"`
	UserID         string             `json:"user_id"`
	Kind           EventKind          `json:"kind"`
	PreviousStatus SubscriptionStatus `json:"previous_status"`
	Record         SubscriptionRecord `json:"record"`
}
