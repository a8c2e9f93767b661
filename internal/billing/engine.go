package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subsync/internal/types"

	"github.com/google/uuid"
)

// Outcome classifies what Apply did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnmapped  Outcome = "unmapped"
	OutcomeMalformed Outcome = "malformed"
	OutcomeQueued    Outcome = "queued"
	OutcomeFailed    Outcome = "failed"
)

// DefaultMaxAttempts bounds the compare-and-set retry loop.
const DefaultMaxAttempts = 5

// Result reports the outcome of one event. Record is the state after the
// call (unchanged for anything but OutcomeApplied) when a record was found.
type Result struct {
	Outcome        Outcome
	Record         *types.SubscriptionRecord
	PreviousStatus types.SubscriptionStatus
}

// EngineConfig holds optional collaborators. Zero values are replaced by
// no-op or default implementations.
type EngineConfig struct {
	MaxAttempts int
	Clock       types.Clock
	Logger      *slog.Logger
	Metrics     Metrics
	Notifier    ChangeNotifier
	// Plans restricts the plans a checkout may activate. A nil or empty
	// catalog accepts any non-empty plan name.
	Plans PlanCatalog
}

// Engine applies normalized events to subscription records.
//
// Every write is a compare-and-set on LastEventSequence, so concurrent
// deliveries for one user serialize through the store without a lock.
// Events at or below the stored sequence are discarded.
type Engine struct {
	store       SubscriptionStore
	maxAttempts int
	clock       types.Clock
	logger      *slog.Logger
	metrics     Metrics
	notifier    ChangeNotifier
	plans       PlanCatalog
}

// NewEngine creates an Engine over store.
func NewEngine(store SubscriptionStore, cfg EngineConfig) *Engine {
	e := &Engine{
		store:       store,
		maxAttempts: cfg.MaxAttempts,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		notifier:    cfg.Notifier,
	}
	if cfg.Plans != nil && len(cfg.Plans.Names()) > 0 {
		e.plans = cfg.Plans
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.clock == nil {
		e.clock = types.RealClock{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = NoopMetrics{}
	}
	if e.notifier == nil {
		e.notifier = NoopNotifier{}
	}
	return e
}

// Dispatch applies evt synchronously.
func (e *Engine) Dispatch(ctx context.Context, evt types.SubscriptionEvent) (Result, error) {
	return e.Apply(ctx, evt)
}

// Apply runs the read, transition, compare-and-set cycle for evt.
//
// Non-nil errors carry an AppError code: validation_malformed_event and
// not_found_subscription are final and must be acknowledged;
// conflict_store_contention and internal_database_error are transient and
// leave the record untouched.
func (e *Engine) Apply(ctx context.Context, evt types.SubscriptionEvent) (Result, error) {
	start := time.Now()
	res, err := e.apply(ctx, evt)
	e.metrics.RecordEvent(evt.Kind, res.Outcome)
	e.metrics.ObserveApply(evt.Kind, time.Since(start))

	attrs := []any{
		"event_id", evt.EventID,
		"event_type", evt.RawType,
		"kind", string(evt.Kind),
		"sequence", evt.Sequence,
		"outcome", string(res.Outcome),
	}
	if res.Record != nil {
		attrs = append(attrs, "user_id", res.Record.UserID, "status", string(res.Record.Status))
	}

	switch {
	case err != nil && types.IsTransient(err):
		e.logger.ErrorContext(ctx, "subscription event not applied", append(attrs, "error", err)...)
	case err != nil:
		e.logger.WarnContext(ctx, "subscription event discarded", append(attrs, "error", err)...)
	case res.Outcome == OutcomeApplied:
		e.logger.InfoContext(ctx, "subscription event applied", attrs...)
	default:
		e.logger.DebugContext(ctx, "subscription event skipped", attrs...)
	}

	return res, err
}

func (e *Engine) apply(ctx context.Context, evt types.SubscriptionEvent) (Result, error) {
	if evt.Kind == types.EventUnrecognized || !isKnownKind(evt.Kind) {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if reason := e.invalidReason(evt); reason != "" {
		return Result{Outcome: OutcomeMalformed}, types.NewMalformedEventError(evt.EventID, reason)
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		current, err := e.locate(ctx, evt)
		if err != nil {
			return Result{Outcome: OutcomeFailed}, types.NewAppError(types.ErrCodeInternalDB, "failed to read subscription record", err)
		}
		if current == nil {
			return Result{Outcome: OutcomeUnmapped}, types.NewUnmappedEventError(evt.EventID, lookupKey(evt))
		}

		if evt.Sequence <= current.LastEventSequence {
			return Result{Outcome: OutcomeDuplicate, Record: current, PreviousStatus: current.Status}, nil
		}

		next, ok := transition(*current, evt, e.clock.Now())
		if !ok {
			return Result{Outcome: OutcomeIgnored, Record: current, PreviousStatus: current.Status}, nil
		}
		if err := next.Validate(); err != nil {
			return Result{Outcome: OutcomeMalformed, Record: current}, types.NewMalformedEventError(evt.EventID, err.Error())
		}

		swapped, err := e.store.CompareAndSet(ctx, current.LastEventSequence, next)
		if err != nil {
			return Result{Outcome: OutcomeFailed, Record: current}, types.NewAppError(types.ErrCodeInternalDB, "failed to write subscription record", err)
		}
		if swapped {
			e.notify(ctx, evt, current.Status, next)
			return Result{Outcome: OutcomeApplied, Record: &next, PreviousStatus: current.Status}, nil
		}

		e.metrics.RecordConflict(evt.Kind)
		e.logger.DebugContext(ctx, "subscription record changed concurrently, retrying",
			"user_id", current.UserID,
			"event_id", evt.EventID,
			"attempt", attempt,
		)
	}

	return Result{Outcome: OutcomeFailed}, types.NewStoreConflictError(lookupKey(evt), e.maxAttempts)
}

// locate finds the record an event targets. Cancellations are matched by
// external subscription first; the user fallback only matches a record
// that is not bound to a different subscription.
func (e *Engine) locate(ctx context.Context, evt types.SubscriptionEvent) (*types.SubscriptionRecord, error) {
	switch evt.Kind {
	case types.EventCheckoutCompleted:
		return e.store.Get(ctx, evt.UserID)

	case types.EventPaymentFailed:
		return e.store.GetByExternalID(ctx, evt.ExternalSubscriptionID)

	case types.EventSubscriptionCanceled:
		if evt.ExternalSubscriptionID != "" {
			rec, err := e.store.GetByExternalID(ctx, evt.ExternalSubscriptionID)
			if err != nil || rec != nil {
				return rec, err
			}
		}
		if evt.UserID == "" {
			return nil, nil
		}
		rec, err := e.store.Get(ctx, evt.UserID)
		if err != nil || rec == nil {
			return rec, err
		}
		if evt.ExternalSubscriptionID != "" && rec.ExternalSubscriptionID != evt.ExternalSubscriptionID {
			return nil, nil
		}
		return rec, nil
	}
	return nil, nil
}

// transition computes the next record. ok is false when the event does not
// apply from the current state and the record must be left alone.
func transition(cur types.SubscriptionRecord, evt types.SubscriptionEvent, now time.Time) (types.SubscriptionRecord, bool) {
	next := cur
	next.LastEventSequence = evt.Sequence
	next.UpdatedAt = now

	switch evt.Kind {
	case types.EventCheckoutCompleted:
		sameSubscription := cur.ExternalSubscriptionID == evt.ExternalSubscriptionID
		if cur.Status == types.SubStatusActive && sameSubscription {
			return next, true
		}
		// A new subscription, or a restart after cancellation, is a fresh
		// activation. Recovery of the same subscription keeps its start date.
		freshCycle := !sameSubscription || cur.StartDate == nil ||
			cur.Status == types.SubStatusCanceled || cur.Status == types.SubStatusInactive
		next.Plan = evt.Plan
		next.Status = types.SubStatusActive
		next.ExternalSubscriptionID = evt.ExternalSubscriptionID
		if freshCycle {
			started := now
			next.StartDate = &started
		}
		return next, true

	case types.EventPaymentFailed:
		switch cur.Status {
		case types.SubStatusActive, types.SubStatusPastDue:
			next.Status = types.SubStatusPastDue
			return next, true
		}
		return cur, false

	case types.EventSubscriptionCanceled:
		switch cur.Status {
		case types.SubStatusActive, types.SubStatusPastDue, types.SubStatusCanceled:
			next.Status = types.SubStatusCanceled
			return next, true
		}
		return cur, false
	}

	return cur, false
}

func (e *Engine) notify(ctx context.Context, evt types.SubscriptionEvent, previous types.SubscriptionStatus, rec types.SubscriptionRecord) {
	change := types.SubscriptionChange{
		ID:             uuid.NewString(),
		EventID:        evt.EventID,
		UserID:         rec.UserID,
		Kind:           evt.Kind,
		PreviousStatus: previous,
		Record:         rec,
	}
	if err := e.notifier.Publish(ctx, change); err != nil {
		e.logger.WarnContext(ctx, "failed to publish subscription change",
			"user_id", rec.UserID,
			"event_id", evt.EventID,
			"error", err,
		)
	}
}

func isKnownKind(kind types.EventKind) bool {
	switch kind {
	case types.EventCheckoutCompleted, types.EventPaymentFailed, types.EventSubscriptionCanceled, types.EventUnrecognized:
		return true
	}
	return false
}

// invalidReason explains why evt cannot be applied, or returns "".
// The catalog gates activation only: records already on a plan that has
// since left the catalog still take payment failures and cancellations.
func (e *Engine) invalidReason(evt types.SubscriptionEvent) string {
	if reason := missingFields(evt); reason != "" {
		return reason
	}
	if evt.Kind == types.EventCheckoutCompleted && e.plans != nil && !e.plans.HasPlan(evt.Plan) {
		return fmt.Sprintf("checkout plan %q is not offered", evt.Plan)
	}
	return ""
}

func missingFields(evt types.SubscriptionEvent) string {
	switch evt.Kind {
	case types.EventCheckoutCompleted:
		switch {
		case evt.UserID == "":
			return "checkout event missing user id"
		case evt.Plan == "" || evt.Plan == types.PlanNone:
			return "checkout event missing plan"
		case evt.ExternalSubscriptionID == "":
			return "checkout event missing subscription reference"
		}
	case types.EventPaymentFailed:
		if evt.ExternalSubscriptionID == "" {
			return "payment failure missing subscription reference"
		}
	case types.EventSubscriptionCanceled:
		if evt.ExternalSubscriptionID == "" && evt.UserID == "" {
			return "cancellation carries neither subscription nor user"
		}
	}
	return ""
}

func lookupKey(evt types.SubscriptionEvent) string {
	if evt.Kind == types.EventCheckoutCompleted {
		return evt.UserID
	}
	if evt.ExternalSubscriptionID != "" {
		return evt.ExternalSubscriptionID
	}
	return evt.UserID
}
