package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"subsync/internal/billing"
	"subsync/internal/types"
)

// RoutingKeySubscriptionChanged is the topic every committed transition is
// published under.
const RoutingKeySubscriptionChanged = "subscription.changed"

// AMQPChannel is the subset of *amqp.Channel the notifier uses.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ billing.ChangeNotifier = (*AMQPNotifier)(nil)

// AMQPNotifier publishes SubscriptionChange messages to a durable topic
// exchange. The channel is not safe for concurrent use, hence the mutex.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  AMQPChannel
	exchange string
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewAMQPNotifier dials url and declares exchange.
func NewAMQPNotifier(url, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	n, err := NewAMQPNotifierWithChannel(ch, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	n.conn = conn
	return n, nil
}

// NewAMQPNotifierWithChannel wraps an existing channel.
func NewAMQPNotifierWithChannel(ch AMQPChannel, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	logger.Info("RabbitMQ notifier connected", "exchange", exchange)
	return &AMQPNotifier{channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends change as a persistent JSON message.
func (n *AMQPNotifier) Publish(ctx context.Context, change types.SubscriptionChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode subscription change: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.channel.PublishWithContext(ctx,
		n.exchange,
		RoutingKeySubscriptionChanged,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    change.ID,
			Timestamp:    time.Now(),
			Type:         string(change.Kind),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish subscription change: %w", err)
	}

	n.logger.DebugContext(ctx, "subscription change published",
		"change_id", change.ID,
		"user_id", change.UserID,
		"status", string(change.Record.Status),
	)
	return nil
}

// Close closes the channel and, when owned, the connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.channel.Close(); err != nil {
		n.logger.Warn("error closing channel", "error", err)
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
