package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"subsync/internal/billing"
	"subsync/internal/types"
)

// --- Mock SQS Client ---

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const (
	testFIFOURL     = "https://sqs.us-east-1.amazonaws.com/123456789/subsync-reconcile.fifo"
	testStandardURL = "https://sqs.us-east-1.amazonaws.com/123456789/subsync-reconcile"
)

func testEvent() types.SubscriptionEvent {
	return types.SubscriptionEvent{
		Kind:                   types.EventPaymentFailed,
		EventID:                "evt_123",
		RawType:                "invoice.payment_failed",
		UserID:                 "U1",
		ExternalSubscriptionID: "sub_1",
		Sequence:               1700000000,
	}
}

func TestSQSDispatcher_FIFOAttributes(t *testing.T) {
	mock := &mockSQSSender{}
	d := NewSQSDispatcher(mock, testFIFOURL, slog.Default())

	res, err := d.Dispatch(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Dispatch returned unexpected error: %v", err)
	}
	if res.Outcome != billing.OutcomeQueued {
		t.Errorf("Outcome = %q, want queued", res.Outcome)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}

	call := mock.calls[0]
	if aws.ToString(call.QueueUrl) != testFIFOURL {
		t.Errorf("QueueUrl = %q", aws.ToString(call.QueueUrl))
	}
	if aws.ToString(call.MessageGroupId) != "U1" {
		t.Errorf("MessageGroupId = %q, want the user id", aws.ToString(call.MessageGroupId))
	}
	if aws.ToString(call.MessageDeduplicationId) != "evt_123" {
		t.Errorf("MessageDeduplicationId = %q, want the event id", aws.ToString(call.MessageDeduplicationId))
	}
	if got := aws.ToString(call.MessageAttributes["kind"].StringValue); got != "payment_failed" {
		t.Errorf("kind attribute = %q", got)
	}
}

func TestSQSDispatcher_StandardQueueHasNoGroup(t *testing.T) {
	mock := &mockSQSSender{}
	d := NewSQSDispatcher(mock, testStandardURL, nil)

	if _, err := d.Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if mock.calls[0].MessageGroupId != nil || mock.calls[0].MessageDeduplicationId != nil {
		t.Error("standard queues reject FIFO attributes")
	}
}

func TestSQSDispatcher_BodyRoundTripsThroughDecode(t *testing.T) {
	mock := &mockSQSSender{}
	d := NewSQSDispatcher(mock, testFIFOURL, nil)
	fixed := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	if _, err := d.Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	msg, err := DecodeReconcileMessage(aws.ToString(mock.calls[0].MessageBody))
	if err != nil {
		t.Fatalf("DecodeReconcileMessage: %v", err)
	}
	if msg.Event != testEvent() {
		t.Errorf("event = %+v", msg.Event)
	}
	if msg.TraceID == "" || !msg.EnqueuedAt.Equal(fixed) {
		t.Errorf("trace=%q enqueued=%v", msg.TraceID, msg.EnqueuedAt)
	}
}

func TestSQSDispatcher_UnrecognizedNotEnqueued(t *testing.T) {
	mock := &mockSQSSender{}
	d := NewSQSDispatcher(mock, testFIFOURL, nil)

	res, err := d.Dispatch(context.Background(), types.SubscriptionEvent{Kind: types.EventUnrecognized, RawType: "invoice.paid"})
	if err != nil || res.Outcome != billing.OutcomeIgnored {
		t.Errorf("res=%+v err=%v", res, err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("calls = %d", len(mock.calls))
	}
}

func TestSQSDispatcher_SendFailureIsTransient(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("service unavailable")}
	d := NewSQSDispatcher(mock, testFIFOURL, nil)

	_, err := d.Dispatch(context.Background(), testEvent())
	if !types.HasCode(err, types.ErrCodeInternalQueue) {
		t.Fatalf("err = %v, want internal_queue_error", err)
	}
	if !types.IsTransient(err) {
		t.Error("queue failures must trigger gateway redelivery")
	}
}

func TestDecodeReconcileMessage_Invalid(t *testing.T) {
	for _, body := range []string{"", "not json", `{"trace_id":"x"}`} {
		if _, err := DecodeReconcileMessage(body); err == nil {
			t.Errorf("DecodeReconcileMessage(%q) should fail", body)
		}
	}

	raw, _ := json.Marshal(ReconcileMessage{Event: types.SubscriptionEvent{Kind: types.EventSubscriptionCanceled, UserID: "U2"}})
	if _, err := DecodeReconcileMessage(string(raw)); err != nil {
		t.Errorf("valid body rejected: %v", err)
	}
}
