// Package main is the entry point for the recovery sweeper.
//
// The sweeper re-enqueues scheduled jobs whose queue entry was lost. Inside
// AWS Lambda it runs once per EventBridge invocation; elsewhere it runs on a
// ticker every SWEEP_INTERVAL until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"reviewsms/internal/config"
	"reviewsms/internal/db"
	notifcore "reviewsms/internal/notifications/core"
	"reviewsms/internal/scheduler"
	"reviewsms/internal/types"
)

// sweeper is the slice of scheduler.RecoverySweeper the handlers need.
type sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

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
	logger := types.NewSlogLogger(types.NewJSONLogger(os.Stdout, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	var metrics scheduler.SweepMetrics
	if cfg.Delivery.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS SDK config: %w", err)
		}
		metrics = notifcore.NewCloudWatchDeliveryMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricsNamespace, logger)
	}

	host, _ := os.Hostname()
	sw := scheduler.NewRecoverySweeper(
		db.NewJobRepository(pool),
		db.NewQueueRepository(pool, cfg.Delivery.LeaseDuration),
		db.NewJobLockRepository(pool),
		metrics,
		scheduler.SweeperConfig{
			Grace:       cfg.Sweeper.Grace,
			BatchSize:   cfg.Sweeper.BatchSize,
			LockTTL:     cfg.Sweeper.LockTTL,
			MaxAttempts: cfg.Delivery.MaxAttempts,
			BackoffBase: cfg.Delivery.BackoffBase,
		},
		fmt.Sprintf("sweeper-%s-%d", host, os.Getpid()),
		logger,
	)

	if isLambdaEnvironment() {
		lambda.Start(newHandler(sw, logger))
		return nil
	}
	logger.Info("recovery sweeper started", "interval", cfg.Sweeper.Interval.String())
	runLoop(ctx, sw, cfg.Sweeper.Interval, time.Now, logger)
	logger.Info("recovery sweeper stopped")
	return nil
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

// newHandler runs one sweep per invocation. ReferenceTime in the payload
// replaces the wall clock, which lets operators replay a missed window.
func newHandler(sw sweeper, logger types.Logger) func(ctx context.Context, payload scheduler.SweepPayload) (string, error) {
	return func(ctx context.Context, payload scheduler.SweepPayload) (string, error) {
		now := time.Now().UTC()
		if payload.ReferenceTime != nil {
			now = payload.ReferenceTime.UTC()
		}
		n, err := sw.Sweep(ctx, now)
		if err != nil {
			logger.Error("recovery sweep failed", "error", err)
			return "", fmt.Errorf("recovery sweep failed: %w", err)
		}
		logger.Info("recovery sweep complete", "requeued", n, "reference_time", now)
		return fmt.Sprintf("sweep complete: %d jobs requeued", n), nil
	}
}

// runLoop sweeps immediately and then on every tick until ctx is done. A
// failed sweep is logged and retried on the next tick.
func runLoop(ctx context.Context, sw sweeper, interval time.Duration, now func() time.Time, logger types.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := sw.Sweep(ctx, now()); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("recovery sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("recovery sweep requeued jobs", "requeued", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
