// Package config defines the process configuration for the subscription sync
// service. It is loaded once at startup and treated as immutable.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"sort"
	"time"

	"subsync/internal/types"
)

// SecretString is an alias for types.SecretString so config structs can be
// declared without importing types at every call site.
type SecretString = types.SecretString

// Store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Webhook processing modes.
const (
	// WebhookModeSync applies each event inside the webhook request.
	WebhookModeSync = "sync"
	// WebhookModeQueue verifies and normalizes in the request, then hands the
	// event to SQS for the reconcile worker.
	WebhookModeQueue = "queue"
)

// Config is the top-level configuration struct.
// Sub-components receive only the config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"subsync"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Reconcile     ReconcileConfig
	Notify        NotifyConfig
	Redis         RedisConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port             string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	WebhookBodyLimit int64         `envconfig:"WEBHOOK_BODY_LIMIT" default:"65536" validate:"min=1024"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	Backend string       `envconfig:"STORE_BACKEND" default:"postgres" validate:"oneof=postgres memory"`
	URL     SecretString `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres,omitempty,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds regional settings shared by SSM, SQS and CloudWatch clients.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds the Stripe credentials and the plan catalog.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripeAPIBase       string       `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`

	ProPriceID        string `envconfig:"STRIPE_PRO_PRICE_ID"`
	EnterprisePriceID string `envconfig:"STRIPE_ENTERPRISE_PRICE_ID"`
	// ExtraPlanPrices adds plans beyond Pro/Enterprise, e.g. "Team:price_123,Starter:price_456".
	ExtraPlanPrices map[string]string `envconfig:"STRIPE_PLAN_PRICES"`
}

// PlanPrices returns the plan name -> Stripe price ID catalog.
func (b BillingConfig) PlanPrices() map[types.PlanName]string {
	prices := make(map[types.PlanName]string, len(b.ExtraPlanPrices)+2)
	for name, price := range b.ExtraPlanPrices {
		if name != "" && price != "" {
			prices[types.PlanName(name)] = price
		}
	}
	if b.ProPriceID != "" {
		prices[types.PlanPro] = b.ProPriceID
	}
	if b.EnterprisePriceID != "" {
		prices[types.PlanEnterprise] = b.EnterprisePriceID
	}
	return prices
}

// PlanNames returns the configured plan names in sorted order.
func (b BillingConfig) PlanNames() []string {
	prices := b.PlanPrices()
	names := make([]string, 0, len(prices))
	for name := range prices {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// ReconcileConfig controls how webhook events reach the reconciliation engine.
type ReconcileConfig struct {
	MaxAttempts int    `envconfig:"RECONCILE_MAX_ATTEMPTS" default:"5" validate:"min=1,max=50"`
	Mode        string `envconfig:"WEBHOOK_MODE" default:"sync" validate:"oneof=sync queue"`
	QueueURL    string `envconfig:"SQS_RECONCILE_QUEUE" validate:"required_if=Mode queue,omitempty,url"`
}

// NotifyConfig configures subscription change notifications.
// An empty AMQPURL disables publishing.
type NotifyConfig struct {
	AMQPURL  SecretString `envconfig:"AMQP_URL"`
	Exchange string       `envconfig:"AMQP_EXCHANGE" default:"subsync.events"`
}

// RedisConfig configures the checkout rate limiter.
// An empty URL disables rate limiting.
type RedisConfig struct {
	URL                SecretString  `envconfig:"REDIS_URL"`
	CheckoutRateLimit  int           `envconfig:"CHECKOUT_RATE_LIMIT" default:"10" validate:"min=1"`
	CheckoutRateWindow time.Duration `envconfig:"CHECKOUT_RATE_WINDOW" default:"1m"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Subsync"`
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
