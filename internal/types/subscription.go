package types

import (
	"errors"
	"time"
)

// PlanName identifies a purchasable plan. The catalog of valid names comes
// from configuration; PlanNone marks a user without a plan.
type PlanName string

const (
	PlanNone       PlanName = "none"
	PlanPro        PlanName = "Pro"
	PlanEnterprise PlanName = "Enterprise"
)

// SubscriptionStatus is the local lifecycle state of a user's subscription.
type SubscriptionStatus string

const (
	SubStatusInactive SubscriptionStatus = "inactive"
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// Valid reports whether s is one of the four known states.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubStatusInactive, SubStatusActive, SubStatusPastDue, SubStatusCanceled:
		return true
	}
	return false
}

// SubscriptionRecord is the per-user subscription state embedded on the
// user row. LastEventSequence is the ordering marker of the last gateway
// event applied to it and never decreases.
type SubscriptionRecord struct {
	UserID                 string             `json:"user_id"`
	Plan                   PlanName           `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	StartDate              *time.Time         `json:"start_date,omitempty"`
	LastEventSequence      int64              `json:"last_event_sequence"`
	UpdatedAt              time.Time          `json:"updated_at,omitempty"`
}

var (
	errActiveWithoutExternalID = errors.New("active subscription requires an external subscription id")
	errActiveWithoutPlan       = errors.New("active subscription requires a plan")
	errUnknownStatus           = errors.New("unknown subscription status")
)

// Validate checks the record invariants that must hold before it is persisted.
func (r *SubscriptionRecord) Validate() error {
	if !r.Status.Valid() {
		return errUnknownStatus
	}
	if r.Status == SubStatusActive {
		if r.ExternalSubscriptionID == "" {
			return errActiveWithoutExternalID
		}
		if r.Plan == "" || r.Plan == PlanNone {
			return errActiveWithoutPlan
		}
	}
	return nil
}

// NewInactiveRecord returns the initial record for a user who never subscribed.
func NewInactiveRecord(userID string) SubscriptionRecord {
	return SubscriptionRecord{
		UserID: userID,
		Plan:   PlanNone,
		Status: SubStatusInactive,
	}
}

// CheckoutIntent is the request to start a hosted checkout. It is never
// persisted; UserID and Plan round-trip through the gateway as metadata.
type CheckoutIntent struct {
	UserID     string
	Plan       PlanName
	SuccessURL string
	CancelURL  string
}
