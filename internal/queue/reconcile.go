// Package queue moves normalized subscription events between the webhook
// edge and the reconcile worker (SQS), and fans committed changes out to
// downstream consumers (RabbitMQ).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"subsync/internal/billing"
	"subsync/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ReconcileMessage is the SQS body consumed by the reconcile worker.
type ReconcileMessage struct {
	TraceID    string                  `json:"trace_id"`
	EnqueuedAt time.Time               `json:"enqueued_at"`
	Event      types.SubscriptionEvent `json:"event"`
}

// DecodeReconcileMessage parses a worker message body.
func DecodeReconcileMessage(body string) (ReconcileMessage, error) {
	var msg ReconcileMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("queue: failed to decode ReconcileMessage: %w", err)
	}
	if msg.Event.Kind == "" {
		return msg, fmt.Errorf("queue: ReconcileMessage has no event kind")
	}
	return msg, nil
}

var _ billing.EventDispatcher = (*SQSDispatcher)(nil)

// SQSDispatcher defers reconciliation to the worker. On FIFO queues the
// message group is the event's routing key, so events for one user are
// applied in arrival order, and the gateway event id deduplicates
// redeliveries within the SQS dedup window.
type SQSDispatcher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
	now      func() time.Time
}

func NewSQSDispatcher(client SQSSender, queueURL string, logger *slog.Logger) *SQSDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSDispatcher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch enqueues evt. Unrecognized events are acknowledged without
// being enqueued since the worker would ignore them anyway.
func (d *SQSDispatcher) Dispatch(ctx context.Context, evt types.SubscriptionEvent) (billing.Result, error) {
	if evt.Kind == types.EventUnrecognized {
		return billing.Result{Outcome: billing.OutcomeIgnored}, nil
	}

	msg := ReconcileMessage{
		TraceID:    uuid.New().String(),
		EnqueuedAt: d.now(),
		Event:      evt,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return billing.Result{Outcome: billing.OutcomeFailed}, types.NewAppError(types.ErrCodeInternalQueue, "failed to encode reconcile message", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(evt.Kind)),
			},
		},
	}
	if d.fifo {
		input.MessageGroupId = aws.String(evt.RoutingKey())
		dedup := evt.EventID
		if dedup == "" {
			dedup = msg.TraceID
		}
		input.MessageDeduplicationId = aws.String(dedup)
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return billing.Result{Outcome: billing.OutcomeFailed}, types.NewAppError(types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to enqueue event %s", evt.EventID), err)
	}

	d.logger.InfoContext(ctx, "subscription event enqueued",
		"queue_url", d.queueURL,
		"trace_id", msg.TraceID,
		"event_id", evt.EventID,
		"kind", string(evt.Kind),
		"routing_key", evt.RoutingKey(),
	)
	return billing.Result{Outcome: billing.OutcomeQueued}, nil
}
