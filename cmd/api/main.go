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

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/evansmunsha/testforpay-sub001/internal/auth"
	"github.com/evansmunsha/testforpay-sub001/internal/config"
	"github.com/evansmunsha/testforpay-sub001/internal/dashboard"
	"github.com/evansmunsha/testforpay-sub001/internal/db"
	"github.com/evansmunsha/testforpay-sub001/internal/execution"
	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
	"github.com/evansmunsha/testforpay-sub001/internal/handlers"
	"github.com/evansmunsha/testforpay-sub001/internal/jobs"
	"github.com/evansmunsha/testforpay-sub001/internal/ledger"
	"github.com/evansmunsha/testforpay-sub001/internal/payouts"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
	"github.com/evansmunsha/testforpay-sub001/internal/router"
	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Schema migrations applied", "new", applied)

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Store
	userRepo := repository.NewUserRepo(pool)
	appRepo := repository.NewApplicationRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)
	usageRepo := repository.NewUsageLogRepo(pool)
	jobsRepo := jobs.NewRepository(pool)

	// Gateway: every call is throttled and bounded by the gateway timeout.
	stripeGW := gateway.NewStripe(cfg.Stripe, &http.Client{Timeout: cfg.GatewayTimeout}, logger)
	gw := gateway.WithLimits(stripeGW, cfg.GatewayTimeout, cfg.GatewayRatePerSecond)

	// Services
	settlement := services.NewSettlementEngine(cfg, appRepo, paymentRepo, userRepo, usageRepo, jobsRepo, gw, logger)
	reconciler := services.NewReconciler(gw, jobsRepo, paymentRepo, userRepo, logger)
	operator := services.NewOperator(paymentRepo, jobsRepo, settlement, logger)
	engagements := services.NewEngagementService(appRepo, jobsRepo, usageRepo, logger)
	jobsSvc := jobs.NewService(jobsRepo, gw, cfg, logger)
	authSvc := auth.NewService(userRepo, cfg.JWTSecret)
	payoutSvc := payouts.NewService(userRepo, gw, cfg.PayoutCurrency, logger)
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool))

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Scheduled settlement
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewSettleEngagementsWorker(settlement, logger))
	var periodic []*river.PeriodicJob
	if cfg.SettlementEnabled {
		periodic = append(periodic, execution.PeriodicSettlement(cfg.SettlementInterval))
	}
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	api := router.New(router.Handlers{
		Auth:         auth.NewHandler(authSvc, logger),
		Jobs:         jobs.NewHandler(jobsSvc, logger),
		Applications: &handlers.ApplicationHandler{Engagements: engagements, Logger: logger},
		Payouts:      payouts.NewHandler(payoutSvc, logger),
		Dashboard:    dashboard.NewHandler(ledgerSvc, jobsRepo, appRepo, paymentRepo, logger),
		Admin:        &handlers.AdminHandler{Operator: operator, Queue: execution.NewEnqueuer(riverClient), Logger: logger},
		Webhook:      &handlers.WebhookHandler{Events: reconciler, Logger: logger},
	}, authSvc, validator)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(api)

	// Start River client (processes settlement jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr, "settlement_interval", cfg.SettlementInterval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("Shutdown complete")
}
