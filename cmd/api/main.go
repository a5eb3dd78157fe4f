// Package main is the entry point for the billing sync API server.
//
// It loads configuration, opens the Postgres pool, assembles the audit
// dispatcher from the configured sinks, builds the purchase ledger and the
// subscription state machine, and serves the provider webhook plus the
// client-facing purchase endpoints on the core chassis.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
// Shutdown hooks drain the audit queue before the pool is closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"billingsync/internal/api/handlers"
	"billingsync/internal/audit"
	"billingsync/internal/billing"
	"billingsync/internal/config"
	"billingsync/internal/core"
	"billingsync/internal/db"
	"billingsync/internal/external"
	"billingsync/internal/metrics"
	"billingsync/internal/types"
)

const metricsFlushInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("billingsync API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"audit_sinks", cfg.Audit.Sinks,
	)
	if cfg.Payment.WebhookSecret.IsZero() {
		logger.Warn("PAYMENT_WEBHOOK_SECRET is not set; every webhook will be rejected")
	}

	srv, err := build(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	return runHTTPServer(srv, cfg, logger)
}

// build opens every backend and assembles the server. On error, whatever
// was already opened is released through the server's shutdown hooks.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *core.Server, err error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}
	defer func() {
		if err != nil {
			_ = srv.Shutdown(ctx)
		}
	}()
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})
	srv.HealthChecks = append(srv.HealthChecks, core.NewHealthCheck("database", pool.Ping))

	clients := sinkClients{db: pool}

	if !cfg.Redis.URL.IsZero() {
		rdb, err := newRedisClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		srv.OnShutdown(func(context.Context) error { return rdb.Close() })
		srv.HealthChecks = append(srv.HealthChecks, core.NewHealthCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
		clients.redis = rdb
	}

	var awsCfg aws.Config
	if cfg.Observability.EnableMetrics || cfg.Audit.Enabled(config.AuditSinkSQS) {
		awsCfg, err = loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Observability.EnableMetrics {
		cw := metrics.NewCloudWatchRecorder(
			cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				o.BaseEndpoint = endpointOverride(cfg.AWS)
			}),
			cfg.Observability.MetricNamespace,
			logger,
		)
		flushCtx, stop := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			cw.Run(flushCtx, metricsFlushInterval)
		}()
		srv.OnShutdown(func(context.Context) error {
			stop()
			<-done
			return nil
		})
		srv.Metrics = cw
	}
	clients.metrics = srv.Metrics

	if cfg.Audit.Enabled(config.AuditSinkSQS) {
		clients.sqs = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = endpointOverride(cfg.AWS)
		})
	}

	sinks, err := buildAuditSinks(cfg.Audit, clients, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := audit.NewDispatcher(sinks, cfg.Audit.BufferSize, logger, audit.WithMetrics(srv.Metrics))
	srv.OnShutdown(dispatcher.Close)

	app := newApp(cfg, appDeps{
		db:         pool,
		dispatcher: dispatcher,
		metrics:    srv.Metrics,
		trail:      trailFor(cfg.Audit, pool, logger),
	}, logger)
	app.register(srv)

	srv.MountRoutes()
	return srv, nil
}

// secretProvider resolves _SECRET_REF variables from mounted secret files
// when SECRETS_DIR is set, and from plain environment variables otherwise.
func secretProvider() config.SecretProvider {
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		return config.NewFileProvider(dir)
	}
	return config.NewEnvVarProvider()
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	return awsCfg, nil
}

// endpointOverride points AWS clients at AWS_ENDPOINT_URL (LocalStack).
func endpointOverride(cfg config.AWSConfig) *string {
	if cfg.EndpointURL == "" {
		return nil
	}
	return aws.String(cfg.EndpointURL)
}

// sinkClients carries the backend clients the audit sinks may need. Fields
// for disabled sinks are nil.
type sinkClients struct {
	db      db.DBTX
	sqs     audit.SQSSender
	redis   audit.StreamAdder
	metrics metrics.Recorder
}

// buildAuditSinks turns AUDIT_SINKS into sink instances, in configured order.
func buildAuditSinks(cfg config.AuditConfig, c sinkClients, logger *slog.Logger) ([]audit.Sink, error) {
	var sinks []audit.Sink
	for _, name := range cfg.Sinks {
		switch name {
		case config.AuditSinkPostgres:
			sinks = append(sinks, audit.NewPostgresSink(db.NewAuditRepo(c.db, logger)))
		case config.AuditSinkSQS:
			if c.sqs == nil {
				return nil, fmt.Errorf("audit sink %q: no SQS client", name)
			}
			sinks = append(sinks, audit.NewSQSSink(c.sqs, cfg.QueueURL))
		case config.AuditSinkRedis:
			if c.redis == nil {
				return nil, fmt.Errorf("audit sink %q requires REDIS_URL", name)
			}
			sinks = append(sinks, audit.NewRedisStreamSink(c.redis, cfg.RedisStream, cfg.StreamMaxLen))
		case config.AuditSinkCloudWatch:
			sinks = append(sinks, audit.NewMetricSink(c.metrics))
		case config.AuditSinkLog:
			sinks = append(sinks, audit.NewLogSink(logger))
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	return sinks, nil
}

// trailFor returns the audit-trail reader for the status endpoint, or nil
// when the audit log is not kept in Postgres.
func trailFor(cfg config.AuditConfig, dbtx db.DBTX, logger *slog.Logger) handlers.AuditTrail {
	if !cfg.Enabled(config.AuditSinkPostgres) {
		return nil
	}
	return db.NewAuditRepo(dbtx, logger)
}

// newTokenCreditor picks the token-balance backend: the remote token service
// when TOKEN_SERVICE_URL is set, the local balance table otherwise.
func newTokenCreditor(cfg config.TokenServiceConfig, dbtx db.DBTX, logger *slog.Logger) billing.TokenCreditor {
	if cfg.URL == "" {
		return db.NewBalanceRepo(dbtx, logger)
	}
	return external.NewTokenServiceClient(external.TokenServiceConfig{
		BaseURL: cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
		Logger:  logger,
	})
}

type appDeps struct {
	db         db.DBTX
	dispatcher *audit.Dispatcher
	metrics    metrics.Recorder
	trail      handlers.AuditTrail
}

// app holds the HTTP handlers wired to the billing core.
type app struct {
	webhook   *handlers.WebhookHandler
	purchases *handlers.PurchaseHandler
}

func newApp(cfg *config.Config, d appDeps, logger *slog.Logger) *app {
	verifier := external.NewHMACVerifier(cfg.Payment.WebhookSecret, cfg.Payment.KeySecret)
	purchases := db.NewPurchaseRepo(d.db, logger)

	ledger := billing.NewLedger(
		purchases,
		newTokenCreditor(cfg.TokenService, d.db, logger),
		db.NewPurchaseHistoryRepo(d.db),
		d.dispatcher,
		d.metrics,
		logger,
	)
	subs := billing.NewSubscriptionMachine(
		db.NewSubscriptionRepo(d.db, logger),
		db.NewInvoiceRepo(d.db, logger),
		d.dispatcher,
		d.metrics,
		types.RealClock{},
		logger,
	)
	router := billing.NewRouter(ledger, subs, d.dispatcher, logger)
	confirmer := billing.NewCheckoutConfirmer(verifier, purchases, d.dispatcher, logger)

	return &app{
		webhook: handlers.NewWebhookHandler(verifier, router, d.dispatcher, d.metrics, handlers.WebhookConfig{
			SignatureHeader: cfg.Payment.SignatureHeader,
			EventIDHeader:   cfg.Payment.EventIDHeader,
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		}, logger),
		purchases: handlers.NewPurchaseHandler(purchases, d.trail, confirmer, nil, logger),
	}
}

// register adds the handlers to the server. The webhook URL is registered
// with the provider at the root; the client endpoints are versioned.
func (a *app) register(srv *core.Server) {
	srv.RootRouteRegistrars = append(srv.RootRouteRegistrars, a.webhook.RegisterRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, a.purchases.RegisterRoutes)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Drain audit events and release pools even when the listener failed.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return errors.Join(runErr, fmt.Errorf("server shutdown: %w", err))
	}

	logger.Info("server stopped gracefully")
	return runErr
}

// newLogger creates a structured JSON logger at the specified level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

var _ db.DBTX = (*pgxpool.Pool)(nil)
