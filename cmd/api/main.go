// Package main is the entry point for the review SMS API server.
//
// It loads configuration, opens the database pool, wires the feedback
// scheduler behind the HTTP chassis and serves until SIGINT or SIGTERM.
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

	"reviewsms/internal/api/handlers"
	"reviewsms/internal/config"
	"reviewsms/internal/core"
	"reviewsms/internal/db"
	"reviewsms/internal/external"
	notifcore "reviewsms/internal/notifications/core"
	"reviewsms/internal/scheduler"
	"reviewsms/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := types.NewJSONLogger(os.Stdout, cfg.LogLevel)
	logger.Info("review sms API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	keys, err := core.NewKeyVerifier(cfg.Server)
	if err != nil {
		return fmt.Errorf("configuring api key: %w", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	jobs := db.NewJobRepository(pool)
	q := db.NewQueueRepository(pool, cfg.Delivery.LeaseDuration)
	feedback := scheduler.NewFeedbackScheduler(jobs, q, scheduler.FeedbackConfig{
		Delay:       cfg.Delivery.Delay(),
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BackoffBase: cfg.Delivery.BackoffBase,
	}, types.NewSlogLogger(logger))

	tester, err := newTestSender(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := newServer(cfg, logger, keys, feedback, tester, db.NewHealthProbe(pool), queueProbe(q))
	if err != nil {
		return err
	}
	return serve(srv, cfg, logger)
}

// newTestSender builds the admin test-SMS sender from the Twilio and rotation
// settings. It returns nil when Twilio is not configured.
func newTestSender(cfg *config.Config, logger *slog.Logger) (handlers.TestSender, error) {
	if err := cfg.Twilio.Require(); err != nil {
		logger.Info("test sms disabled", "reason", err.Error())
		return nil, nil
	}
	targets, err := cfg.Rotation.Targets()
	if err != nil {
		return nil, err
	}

	log := types.NewSlogLogger(logger)
	gateway := external.NewTwilioClient(&http.Client{Timeout: cfg.Delivery.GatewayTimeout}, external.TwilioClientConfig{
		AccountSID:          cfg.Twilio.AccountSID,
		AuthToken:           cfg.Twilio.AuthToken.Unmask(),
		From:                cfg.Twilio.PhoneNumber,
		MessagingServiceSID: cfg.Twilio.MessagingServiceSID,
		BaseURL:             cfg.Twilio.BaseURL,
		Logger:              log,
	})
	m, err := notifcore.NewTestMessenger(targets, gateway,
		notifcore.NewFormatter(cfg.Delivery.CompanyName), cfg.Delivery.GatewayTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("configuring test sms: %w", err)
	}
	return m, nil
}

// newServer mounts the feedback routes on the core chassis. tester may be nil.
func newServer(cfg *config.Config, logger *slog.Logger, keys core.KeyVerifier, svc handlers.FeedbackService, tester handlers.TestSender, probes ...core.HealthProbe) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Keys = keys
	srv.HealthProbes = probes

	h := handlers.NewFeedbackHandler(svc, srv.Validator, logger)
	if tester != nil {
		h.WithTestSender(tester)
	}
	srv.Registrars = append(srv.Registrars, h.RegisterRoutes)
	srv.MountRoutes()
	return srv, nil
}

// queueProbe reports the delay queue healthy when its counts can be read.
func queueProbe(q types.DelayQueue) core.HealthProbe {
	return core.ProbeFunc{ProbeName: "queue", Fn: func(ctx context.Context) error {
		_, err := q.Stats(ctx)
		return err
	}}
}

func serve(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped cleanly")
	return nil
}
