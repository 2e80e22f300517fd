package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"github.com/spf13/pflag"

	"github.com/yeoskin/backend/internal/alerting"
	"github.com/yeoskin/backend/internal/auth"
	"github.com/yeoskin/backend/internal/config"
	"github.com/yeoskin/backend/internal/dashboard"
	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/execution"
	"github.com/yeoskin/backend/internal/handlers"
	"github.com/yeoskin/backend/internal/ledger"
	"github.com/yeoskin/backend/internal/logger"
	"github.com/yeoskin/backend/internal/provider"
	"github.com/yeoskin/backend/internal/repository"
	"github.com/yeoskin/backend/internal/retry"
	"github.com/yeoskin/backend/internal/router"
	"github.com/yeoskin/backend/internal/services"
)

func main() {
	configPath := pflag.String("config", "", "path to YAML config file")
	migrate := pflag.Bool("migrate", false, "apply database migrations before starting")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, *verbose)
	slog.SetDefault(log)

	if err := run(cfg, *migrate, log); err != nil {
		log.Error("Service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, migrate bool, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	alerts, flushAlerts, err := alerting.New(cfg.SentryDSN, cfg.Environment, log)
	if err != nil {
		return err
	}
	defer flushAlerts()

	if migrate {
		if err := repository.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info("Schema migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up", "error", err)
		return err
	}
	log.Info("Connected to PostgreSQL database successfully!")

	if migrate {
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			return err
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return err
		}
		log.Info("River migrations applied")
	}

	clock := clockwork.NewRealClock()
	bus := events.NewBus()

	creatorRepo := repository.NewCreatorRepo(pool)
	tierRepo := repository.NewTierRepo(pool)
	commissionRepo := repository.NewCommissionRepo(pool)
	payoutRepo := repository.NewPayoutRepo(pool)
	issueRepo := repository.NewIssueRepo(pool)
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), clock)

	var transfers provider.Client
	switch cfg.Provider.Kind {
	case "http":
		transfers = provider.NewHTTPClient(provider.HTTPConfig{
			BaseURL:       cfg.Provider.BaseURL,
			APIKey:        cfg.Provider.APIKey,
			Timeout:       cfg.Payout.ProviderTimeout.Duration,
			RatePerSecond: cfg.Provider.RatePerSecond,
			Burst:         cfg.Provider.Burst,
		})
	default:
		log.Warn("Using the sandbox transfer provider; no money will move")
		transfers = provider.NewSandbox(clock)
	}

	// Submit jobs are inserted in the batch transaction; the River client is bound below.
	enqueuer := &execution.SubmitEnqueuer{}

	accrual := &services.AccrualService{
		Pool:        pool,
		Creators:    creatorRepo,
		Tiers:       tierRepo,
		Commissions: commissionRepo,
		Issues:      issueRepo,
		Ledger:      ledgerSvc,
		Events:      bus,
		Alerts:      alerts,
		Clock:       clock,
		Currency:    cfg.Currency,
		Logger:      log,
	}
	eligibility := services.NewEligibilityService(commissionRepo, bus, clock, log)
	payouts := &services.PayoutService{
		Pool:          pool,
		Creators:      creatorRepo,
		Commissions:   commissionRepo,
		Payouts:       payoutRepo,
		Issues:        issueRepo,
		Ledger:        ledgerSvc,
		Provider:      transfers,
		EnqueueSubmit: enqueuer.Enqueue,
		Events:        bus,
		Alerts:        alerts,
		Clock:         clock,
		Retry: retry.Config{
			MaxAttempts: cfg.Payout.Retry.MaxAttempts,
			BaseBackoff: cfg.Payout.Retry.BaseBackoff.Duration,
			MaxBackoff:  cfg.Payout.Retry.MaxBackoff.Duration,
		},
		MinimumCents:    cfg.Payout.MinimumCents,
		Currency:        cfg.Currency,
		MaxConcurrency:  cfg.Payout.MaxConcurrency,
		ProviderTimeout: cfg.Payout.ProviderTimeout.Duration,
		ReconcileAfter:  cfg.Payout.ReconcileAfter.Duration,
		Logger:          log,
	}
	tiers := services.NewTierService(tierRepo, commissionRepo, clock)

	submitTimeout := 4 * cfg.Payout.ProviderTimeout.Duration
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: execution.NewWorkers(payouts, eligibility, submitTimeout, log),
		PeriodicJobs: execution.PeriodicJobs(execution.Schedule{
			Unlock:    cfg.Eligibility.Interval.Duration,
			Reconcile: cfg.Payout.ReconcileEvery.Duration,
			AutoRun:   cfg.Payout.AutoRunInterval.Duration,
		}),
		Logger: log,
	})
	if err != nil {
		return err
	}
	enqueuer.Bind(func(ctx context.Context, tx pgx.Tx, args execution.SubmitPayoutItemArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	})

	cache := dashboard.NewCache(cfg.Dashboard.CacheTTL.Duration, clock)
	defer cache.Subscribe(bus)()
	agg := &dashboard.Aggregator{
		Creators:     creatorRepo,
		Ledger:       ledgerSvc,
		Commissions:  commissionRepo,
		Payouts:      payoutRepo,
		Tiers:        tiers,
		Cache:        cache,
		Clock:        clock,
		MinimumCents: cfg.Payout.MinimumCents,
		Currency:     cfg.Currency,
		Logger:       log,
	}

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration, clock)
	if err := authSvc.EnsureAdmin(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword); err != nil {
		return err
	}

	validator, err := services.NewValidator()
	if err != nil {
		return err
	}

	admin := &handlers.AdminHandler{
		Creators: &services.CreatorService{Pool: pool, Creators: creatorRepo, Events: bus, Clock: clock, Logger: log},
		Tiers:    tiers,
		Payouts:  payouts,
		Adjustments: &services.AdjustmentService{
			Pool:        pool,
			Creators:    creatorRepo,
			Commissions: commissionRepo,
			Ledger:      ledgerSvc,
			Events:      bus,
			Clock:       clock,
			Logger:      log,
		},
		Issues: services.NewIssueService(issueRepo, clock),
		Logger: log,
	}
	webhooks := &handlers.WebhookHandler{Accrual: accrual, Payouts: payouts, Validator: validator, Logger: log}

	api := router.New(auth.NewHandler(authSvc, log), authSvc, admin, dashboard.NewHandler(agg, log))
	mux := newMux(api, webhooks, cfg.Integrations, pool)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler(mux)

	if err := riverClient.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			log.Error("River client stop failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTP.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "addr", srv.Addr, "provider", cfg.Provider.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
