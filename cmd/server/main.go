package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dukerupert/memberhub/internal"
	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/cache"
	"github.com/dukerupert/memberhub/internal/handler"
	"github.com/dukerupert/memberhub/internal/handler/api"
	"github.com/dukerupert/memberhub/internal/handler/webhook"
	"github.com/dukerupert/memberhub/internal/middleware"
	"github.com/dukerupert/memberhub/internal/notify"
	"github.com/dukerupert/memberhub/internal/postgres"
	"github.com/dukerupert/memberhub/internal/router"
	"github.com/dukerupert/memberhub/internal/routes"
	"github.com/dukerupert/memberhub/internal/telemetry"
	"github.com/dukerupert/memberhub/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Error tracking and business metrics
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()
	telemetry.InitBillingMetrics("memberhub")

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Entitlement read cache (optional)
	var entitlementCache postgres.EntitlementCache
	if cfg.Redis.URL != "" {
		client, err := cache.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer client.Close()
		entitlementCache = cache.NewEntitlementCache(client, cfg.Redis.TTL)
		logger.Info("Entitlement cache enabled", "ttl", cfg.Redis.TTL)
	}
	store := postgres.NewEntitlementStore(pool, entitlementCache, logger)

	// Entitlement change notifications (optional)
	var notifier billing.Notifier
	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return fmt.Errorf("nats initialization failed: %w", err)
		}
		defer nc.Drain()
		notifier = notify.NewNATSPublisher(nc, cfg.NATS.Subject, logger)
		logger.Info("Entitlement notifications enabled", "subject", cfg.NATS.Subject)
	}

	// Initialize Stripe processor
	stripeConfig := billing.StripeConfig{
		APIKey:         cfg.Stripe.SecretKey,
		WebhookSecret:  cfg.Stripe.WebhookSecret,
		MaxRetries:     cfg.Stripe.MaxRetries,
		TimeoutSeconds: cfg.Stripe.TimeoutSeconds,
	}
	if err := stripeConfig.Validate(); err != nil {
		return err
	}
	processor := billing.NewStripeProcessor(stripeConfig, logger)
	logger.Info("Stripe processor initialized", "test_mode", stripeConfig.IsTestMode())

	// Billing core
	verifier := billing.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance)
	reconciler := billing.NewReconciler(store, processor, cfg.Stripe.Prices, notifier, logger)
	checkoutService := billing.NewCheckoutService(store, processor, cfg.Stripe.Prices, billing.CheckoutConfig{
		SuccessURL:      cfg.Stripe.SuccessURL,
		CancelURL:       cfg.Stripe.CancelURL,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
	}, logger)
	dedup := billing.NewDeduplicator(store, cfg.Dedup.Retention, logger)

	// ==========================================================================
	// Initialize middleware
	// ==========================================================================

	authenticator, err := middleware.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("authenticator initialization failed: %w", err)
	}

	metrics := middleware.NewMetrics("memberhub", nil)

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.HSTSMaxAge = 0 // Disable HSTS in development
	}

	checkoutLimiter := middleware.NewRateLimiter(middleware.CheckoutRateLimiterConfig())
	defer checkoutLimiter.Stop()

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		telemetry.SentryMiddleware(),
		router.Recovery,
		middleware.RequestID,
		middleware.WithRequestLogger(logger),
		metrics.Middleware,
		middleware.SecurityHeaders(securityConfig),
		router.AccessLog,
	)

	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		HealthHandler:  handler.NewHealthHandler(pool),
		MetricsHandler: metrics.Handler(),
	})
	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler: webhook.NewStripeHandler(verifier, reconciler, logger).HandleWebhook,
	})
	routes.RegisterAPIRoutes(r, routes.APIDeps{
		Authenticate:       authenticator.Authenticate,
		CheckoutRateLimit:  checkoutLimiter.Middleware,
		CheckoutHandler:    api.NewCheckoutHandler(checkoutService),
		EntitlementHandler: api.NewEntitlementHandler(store),
		Entitlements:       store,
	})

	// ==========================================================================
	// Start background work and server
	// ==========================================================================

	pruner := worker.NewWorker(dedup, worker.Config{
		Interval:   cfg.Dedup.PruneInterval,
		RunOnStart: true,
	}, logger)
	go func() {
		if err := pruner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("marker pruning worker stopped", "error", err)
		}
	}()

	// CORS wraps the mux so preflight requests reach it before method matching.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.CORS(cfg.AllowedOrigins)(r),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
