// Package main implements the Reconcile Worker Lambda.
//
// It consumes ReconcileMessage bodies from the reconcile SQS queue (filled by
// the API in WEBHOOK_MODE=queue) and applies each event through the
// reconciliation engine. Transient failures are reported as batch item
// failures so SQS redelivers only those messages; everything else is
// acknowledged, mirroring the webhook endpoint's acknowledgment rules.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/kelseyhightower/envconfig"

	"subsync/internal/billing"
	"subsync/internal/config"
	"subsync/internal/db"
	"subsync/internal/metrics"
	"subsync/internal/queue"
	"subsync/internal/types"
)

// workerConfig is the subset of service configuration the worker reads.
// Of the Stripe settings only the plan catalog is used; the credentials
// may be left unset.
type workerConfig struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	Database      config.DatabaseConfig
	Billing       config.BillingConfig
	AWS           config.AWSConfig
	Reconcile     config.ReconcileConfig
	Notify        config.NotifyConfig
	Observability config.ObservabilityConfig
}

func loadWorkerConfig() (*workerConfig, error) {
	var cfg workerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing worker configuration: %w", err)
	}
	if !cfg.Database.URL.IsSet() {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return &cfg, nil
}

// Applier applies one normalized event. *billing.Engine satisfies it.
type Applier interface {
	Apply(ctx context.Context, evt types.SubscriptionEvent) (billing.Result, error)
}

// Handler processes SQS batches.
type Handler struct {
	engine Applier
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(engine Applier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger, now: time.Now}
}

// Handle is the Lambda entry point. It never returns an error for a single
// bad message; failures are reported per item.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "reconcile message will be redelivered",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage returns an error only when a retry could succeed.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.DecodeReconcileMessage(record.Body)
	if err != nil {
		// Poison message: redelivery would fail the same way.
		h.logger.ErrorContext(ctx, "dropping undecodable reconcile message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	logger := h.logger.With(
		"message_id", record.MessageId,
		"trace_id", msg.TraceID,
		"event_id", msg.Event.EventID,
		"event_type", msg.Event.RawType,
	)
	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if sentAt, err := parseMillisTimestamp(sent); err == nil {
			logger = logger.With("queue_lag_ms", h.now().Sub(sentAt).Milliseconds())
		}
	}

	ctx = types.WithRequestID(ctx, msg.TraceID)
	ctx = types.WithLogger(ctx, logger)

	res, err := h.engine.Apply(ctx, msg.Event)
	switch {
	case err != nil && types.IsTransient(err):
		return fmt.Errorf("apply %s: %w", msg.Event.EventID, err)
	case err != nil:
		logger.WarnContext(ctx, "reconcile message acknowledged without effect",
			"outcome", string(res.Outcome),
			"error", err,
		)
	default:
		logger.DebugContext(ctx, "reconcile message processed", "outcome", string(res.Outcome))
	}
	return nil
}

func parseMillisTimestamp(ms string) (time.Time, error) {
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	ctx := context.Background()

	cfg, err := loadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Reconcile Worker Lambda initializing (cold start)")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	var notifier billing.ChangeNotifier = billing.NoopNotifier{}
	if cfg.Notify.AMQPURL.IsSet() {
		n, err := queue.NewAMQPNotifier(cfg.Notify.AMQPURL.Unmask(), cfg.Notify.Exchange, logger)
		if err != nil {
			// Notifications are best effort; reconciliation proceeds without them.
			logger.Warn("RabbitMQ unavailable, change notifications disabled", "error", err)
		} else {
			notifier = n
		}
	}

	var engineMetrics billing.Metrics = billing.NoopMetrics{}
	if cfg.Observability.MetricsEnabled {
		engineMetrics = metrics.NewCloudWatch(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	engine := billing.NewEngine(db.NewSubscriptionStore(pool, logger), billing.EngineConfig{
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		Logger:      logger.With("component", "reconcile"),
		Metrics:     engineMetrics,
		Notifier:    notifier,
		Plans:       billing.NewStaticPlanCatalog(cfg.Billing.PlanPrices()),
	})

	handler := NewHandler(engine, logger)

	logger.Info("Reconcile Worker Lambda initialized",
		"metric_namespace", cfg.Observability.MetricNamespace,
		"max_attempts", cfg.Reconcile.MaxAttempts,
		"notifications", cfg.Notify.AMQPURL.IsSet(),
		"plans", cfg.Billing.PlanNames(),
	)

	lambda.Start(handler.Handle)
}
