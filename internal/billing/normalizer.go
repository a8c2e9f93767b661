package billing

import (
	"encoding/json"

	"subsync/internal/external"
	"subsync/internal/types"
)

// sequenceScale leaves room below each creation second for the kind rank.
const sequenceScale = 10

// kindRank orders events created in the same second. Stripe emits the final
// invoice.payment_failed and customer.subscription.deleted of a lapsed
// subscription together; the cancellation must win.
var kindRank = map[types.EventKind]int64{
	types.EventCheckoutCompleted:    1,
	types.EventPaymentFailed:        2,
	types.EventSubscriptionCanceled: 3,
}

// EventSequence is the ordering marker for an event of kind created at the
// given unix second: created*10 plus the kind rank.
func EventSequence(created int64, kind types.EventKind) int64 {
	return created*sequenceScale + kindRank[kind]
}

// Normalize maps a verified gateway event onto a SubscriptionEvent.
//
// It performs no I/O and never fails: unknown types become
// EventUnrecognized, and a known type whose object cannot be decoded keeps
// its kind with empty fields so the engine can report it as malformed.
func Normalize(raw types.RawGatewayEvent) types.SubscriptionEvent {
	evt := types.SubscriptionEvent{
		Kind:    types.EventUnrecognized,
		EventID: raw.ID,
		RawType: raw.Type,
	}

	switch raw.Type {
	case external.EventStripeCheckoutCompleted:
		evt.Kind = types.EventCheckoutCompleted
		normalizeCheckout(raw.Object, &evt)
	case external.EventStripePaymentFailed:
		evt.Kind = types.EventPaymentFailed
		normalizeInvoice(raw.Object, &evt)
	case external.EventStripeSubDeleted:
		evt.Kind = types.EventSubscriptionCanceled
		normalizeSubscription(raw.Object, &evt)
	}
	evt.Sequence = EventSequence(raw.Created, evt.Kind)

	return evt
}

type checkoutPayload struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      json.RawMessage   `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

func normalizeCheckout(object json.RawMessage, evt *types.SubscriptionEvent) {
	var session checkoutPayload
	if err := json.Unmarshal(object, &session); err != nil {
		return
	}

	evt.UserID = session.ClientReferenceID
	if evt.UserID == "" {
		evt.UserID = session.Metadata[external.MetadataUserID]
	}
	evt.Plan = types.PlanName(session.Metadata[external.MetadataPlan])
	evt.ExternalSubscriptionID = expandableID(session.Subscription)
}

type subscriptionPayload struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func normalizeSubscription(object json.RawMessage, evt *types.SubscriptionEvent) {
	var sub subscriptionPayload
	if err := json.Unmarshal(object, &sub); err != nil {
		return
	}

	evt.ExternalSubscriptionID = sub.ID
	evt.UserID = sub.Metadata[external.MetadataUserID]
}

// invoicePayload covers both invoice shapes: the legacy top-level
// "subscription" reference and the current parent.subscription_details one.
type invoicePayload struct {
	Subscription        json.RawMessage `json:"subscription"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func normalizeInvoice(object json.RawMessage, evt *types.SubscriptionEvent) {
	var inv invoicePayload
	if err := json.Unmarshal(object, &inv); err != nil {
		return
	}

	evt.ExternalSubscriptionID = expandableID(inv.Subscription)
	if inv.SubscriptionDetails != nil {
		evt.UserID = inv.SubscriptionDetails.Metadata[external.MetadataUserID]
	}

	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		if evt.ExternalSubscriptionID == "" {
			evt.ExternalSubscriptionID = expandableID(details.Subscription)
		}
		if evt.UserID == "" {
			evt.UserID = details.Metadata[external.MetadataUserID]
		}
	}
}

// expandableID reads a Stripe reference that is either an ID string or an
// expanded object with an "id" field.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
