package billing

import (
	"context"
	"time"

	"subsync/internal/types"
)

// SubscriptionStore is the persistence contract the engine relies on.
//
// Get and GetByExternalID return (nil, nil) when nothing matches.
// CompareAndSet writes rec only if the stored LastEventSequence for
// rec.UserID still equals expectedSequence, and reports false otherwise.
type SubscriptionStore interface {
	Get(ctx context.Context, userID string) (*types.SubscriptionRecord, error)
	GetByExternalID(ctx context.Context, externalSubscriptionID string) (*types.SubscriptionRecord, error)
	CompareAndSet(ctx context.Context, expectedSequence int64, rec types.SubscriptionRecord) (bool, error)
}

// ChangeNotifier publishes committed subscription transitions.
type ChangeNotifier interface {
	Publish(ctx context.Context, change types.SubscriptionChange) error
}

// EventDispatcher hands a normalized event to whatever applies it: the
// engine directly, or a queue in front of a worker.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt types.SubscriptionEvent) (Result, error)
}

// Metrics receives reconciliation telemetry.
type Metrics interface {
	RecordEvent(kind types.EventKind, outcome Outcome)
	RecordConflict(kind types.EventKind)
	ObserveApply(kind types.EventKind, d time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordEvent(types.EventKind, Outcome)        {}
func (NoopMetrics) RecordConflict(types.EventKind)              {}
func (NoopMetrics) ObserveApply(types.EventKind, time.Duration) {}

// NoopNotifier drops change notifications.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, types.SubscriptionChange) error { return nil }
