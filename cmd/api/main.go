// Package main is the entry point for the subsync API server.
//
// It loads configuration, opens the subscription store, builds the Stripe
// gateway and reconciliation engine, mounts the checkout and webhook
// handlers on the core chassis, and serves HTTP until SIGINT or SIGTERM.
//
// With WEBHOOK_MODE=queue, verified webhook events are handed to SQS and
// applied by cmd/reconcile-worker instead of inside the request.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"subsync/internal/api/handlers"
	"subsync/internal/auth"
	"subsync/internal/billing"
	"subsync/internal/cache"
	"subsync/internal/config"
	"subsync/internal/core"
	"subsync/internal/db"
	"subsync/internal/external"
	"subsync/internal/metrics"
	"subsync/internal/queue"
	"subsync/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("subsync API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"store", cfg.Database.Backend,
		"webhook_mode", cfg.Reconcile.Mode,
	)

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return serve(ctx, srv, cfg, logger)
}

// secretProvider returns nil for local runs, where SSM pointers are never
// resolved.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region, os.Getenv("AWS_ENDPOINT_URL"))
}

// buildServer wires every dependency onto a core.Server and mounts routes.
// Resources it opens are registered with srv.OnShutdown.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	store, err := openStore(ctx, srv, cfg, logger)
	if err != nil {
		_ = srv.Shutdown(ctx)
		return nil, err
	}

	var engineMetrics billing.Metrics = billing.NoopMetrics{}
	if cfg.Observability.MetricsEnabled {
		engineMetrics = wirePrometheus(srv, cfg)
	}

	if err := wireRateLimiter(ctx, srv, cfg, logger); err != nil {
		_ = srv.Shutdown(ctx)
		return nil, err
	}

	clients, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		_ = srv.Shutdown(ctx)
		return nil, fmt.Errorf("creating gateway clients: %w", err)
	}

	catalog := billing.NewStaticPlanCatalog(cfg.Billing.PlanPrices())

	dispatcher, err := newDispatcher(ctx, srv, cfg, store, catalog, engineMetrics, logger)
	if err != nil {
		_ = srv.Shutdown(ctx)
		return nil, err
	}

	webhookHandler := handlers.NewStripeWebhookHandler(
		clients.Webhooks,
		dispatcher,
		cfg.Server.WebhookBodyLimit,
		logger.With("component", "stripe_webhook"),
	)
	srv.WebhookRouteRegistrars = append(srv.WebhookRouteRegistrars, webhookHandler.RegisterRoutes)

	initiator := billing.NewCheckoutInitiator(
		clients.Checkout,
		catalog,
		logger.With("component", "checkout"),
	)
	billingHandler := handlers.NewBillingHandler(
		initiator,
		store,
		srv.Validator,
		srv.RateLimit("checkout"),
		logger.With("component", "billing"),
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, billingHandler.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// openStore opens the configured subscription store. The Postgres backend
// also provides the session authenticator and a database health probe.
func openStore(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) (billing.SubscriptionStore, error) {
	if cfg.Database.Backend == config.StoreBackendMemory {
		logger.Warn("using in-memory subscription store; records are lost on restart and bearer auth is disabled")
		return db.NewMemoryStore(), nil
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	srv.OnShutdown(func() error {
		pool.Close()
		return nil
	})
	srv.HealthProbes = append(srv.HealthProbes, core.NewProbe("database", pool.Ping))

	if cfg.Environment == "local" {
		if _, err := db.Migrate(ctx, pool, logger); err != nil {
			return nil, fmt.Errorf("applying migrations: %w", err)
		}
	}

	srv.Authenticator = auth.NewSessionAuthenticator(db.NewSessionRepository(pool), types.RealClock{}, logger)
	return db.NewSubscriptionStore(pool, logger), nil
}

// wirePrometheus registers collectors on a private registry, instruments
// every request and exposes /metrics.
func wirePrometheus(srv *core.Server, cfg *config.Config) *metrics.Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prom := metrics.NewPrometheus(reg, strings.ToLower(cfg.Observability.MetricNamespace))
	srv.Instrument = prom.Middleware
	srv.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return prom
}

// wireRateLimiter uses Redis when REDIS_URL is set. Outside local runs an
// unreachable Redis fails startup; locally it falls back to process memory.
func wireRateLimiter(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Redis.URL.IsSet() {
		srv.RateLimitStore = cache.NewMemoryRateLimiter()
		return nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL.Unmask())
	if err != nil {
		return fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	limiter, err := cache.NewRedisRateLimiter(client, cfg.Service+":ratelimit:")
	if err != nil {
		_ = client.Close()
		return err
	}
	if err := limiter.Ping(ctx); err != nil {
		_ = client.Close()
		if cfg.Environment != "local" {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		logger.Warn("Redis not available, checkout rate limit will use in-memory fallback", "error", err)
		srv.RateLimitStore = cache.NewMemoryRateLimiter()
		return nil
	}

	logger.Info("connected to Redis")
	srv.OnShutdown(client.Close)
	srv.HealthProbes = append(srv.HealthProbes, core.NewProbe("redis", limiter.Ping))
	srv.RateLimitStore = limiter
	return nil
}

// newDispatcher returns the engine itself in sync mode, or an SQS producer
// in queue mode. Change notifications are published by whichever process
// applies events, so the notifier is only opened in sync mode.
func newDispatcher(
	ctx context.Context,
	srv *core.Server,
	cfg *config.Config,
	store billing.SubscriptionStore,
	catalog billing.PlanCatalog,
	engineMetrics billing.Metrics,
	logger *slog.Logger,
) (billing.EventDispatcher, error) {
	if cfg.Reconcile.Mode == config.WebhookModeQueue {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		logger.Info("webhook events will be queued", "queue_url", cfg.Reconcile.QueueURL)
		return queue.NewSQSDispatcher(client, cfg.Reconcile.QueueURL, logger), nil
	}

	var notifier billing.ChangeNotifier = billing.NoopNotifier{}
	if cfg.Notify.AMQPURL.IsSet() {
		n, err := queue.NewAMQPNotifier(cfg.Notify.AMQPURL.Unmask(), cfg.Notify.Exchange, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to RabbitMQ: %w", err)
		}
		srv.OnShutdown(n.Close)
		notifier = n
	}

	return billing.NewEngine(store, billing.EngineConfig{
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		Logger:      logger.With("component", "reconcile"),
		Metrics:     engineMetrics,
		Notifier:    notifier,
		Plans:       catalog,
	}), nil
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests and closes server resources within ShutdownTimeout.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger for the given level name.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
