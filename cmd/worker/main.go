// Package main is the entry point for the delivery worker.
//
// The worker claims due entries from the Postgres-backed delay queue, sends
// the review SMS through Twilio and records each outcome. On SIGINT or
// SIGTERM it stops claiming and lets in-flight sends finish within the drain
// timeout.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"reviewsms/internal/config"
	"reviewsms/internal/db"
	"reviewsms/internal/external"
	notifcore "reviewsms/internal/notifications/core"
	"reviewsms/internal/rotation"
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
	if err := cfg.Twilio.Require(); err != nil {
		return err
	}
	targets, err := cfg.Rotation.Targets()
	if err != nil {
		return err
	}

	slogger := types.NewJSONLogger(os.Stdout, cfg.LogLevel)
	logger := types.NewSlogLogger(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	var counter rotation.Counter = &rotation.MemoryCounter{}
	if cfg.Rotation.CounterBackend == "postgres" {
		counter = db.NewRotationCounterRepository(pool, "")
	}
	selector, err := rotation.NewService(targets, counter, cfg.Rotation.Strategy, logger)
	if err != nil {
		return fmt.Errorf("configuring review rotation: %w", err)
	}

	gateway := external.NewTwilioClient(&http.Client{Timeout: cfg.Delivery.GatewayTimeout}, external.TwilioClientConfig{
		AccountSID:          cfg.Twilio.AccountSID,
		AuthToken:           cfg.Twilio.AuthToken.Unmask(),
		From:                cfg.Twilio.PhoneNumber,
		MessagingServiceSID: cfg.Twilio.MessagingServiceSID,
		BaseURL:             cfg.Twilio.BaseURL,
		Logger:              logger,
	})

	recorders, closers, err := newRecorders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close outcome publisher", "error", err)
			}
		}
	}()

	engine := notifcore.NewEngine(notifcore.EngineDeps{
		Jobs:      db.NewJobRepository(pool),
		Queue:     db.NewQueueRepository(pool, cfg.Delivery.LeaseDuration),
		Targets:   selector,
		Gateway:   gateway,
		Formatter: notifcore.NewFormatter(cfg.Delivery.CompanyName),
		Recorders: recorders,
		Logger:    logger,
	}, notifcore.EngineConfig{
		Concurrency:    cfg.Delivery.Concurrency,
		PollInterval:   cfg.Delivery.PollInterval,
		DrainTimeout:   cfg.Delivery.DrainTimeout,
		GatewayTimeout: cfg.Delivery.GatewayTimeout,
		WorkerID:       workerID(),
	})

	slogger.Info("delivery worker starting",
		slog.String("environment", cfg.Environment),
		slog.String("version", cfg.Build.Version),
		slog.Int("targets", len(targets)),
		slog.String("rotation", cfg.Rotation.Strategy),
		slog.String("outcome_publisher", cfg.Delivery.OutcomePublisher),
	)
	return engine.Run(ctx)
}

// newRecorders builds the outcome recorders selected by configuration. The
// returned closers must be closed on shutdown.
func newRecorders(ctx context.Context, cfg *config.Config, logger types.Logger) ([]notifcore.OutcomeRecorder, []io.Closer, error) {
	var (
		recorders []notifcore.OutcomeRecorder
		closers   []io.Closer
	)

	needAWS := cfg.Delivery.MetricsEnabled || cfg.Delivery.OutcomePublisher == "sqs"
	var clients awsClients
	if needAWS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS SDK config: %w", err)
		}
		clients = awsClients{
			cloudwatch: cloudwatch.NewFromConfig(awsCfg),
			sqs:        sqs.NewFromConfig(awsCfg),
		}
	}

	if cfg.Delivery.MetricsEnabled {
		metrics := notifcore.NewCloudWatchDeliveryMetrics(clients.cloudwatch, cfg.AWS.MetricsNamespace, logger)
		recorders = append(recorders, notifcore.NewMetricsRecorder(metrics))
	}

	switch cfg.Delivery.OutcomePublisher {
	case "sqs":
		if cfg.AWS.OutcomeQueueURL == "" {
			return nil, nil, fmt.Errorf("SQS_OUTCOME_QUEUE_URL is required when OUTCOME_PUBLISHER=sqs")
		}
		pub := notifcore.NewSQSOutcomePublisher(clients.sqs, cfg.AWS.OutcomeQueueURL, logger)
		recorders = append(recorders, notifcore.NewPublishingRecorder(pub, logger))
	case "amqp":
		if cfg.AMQP.URL.IsEmpty() {
			return nil, nil, fmt.Errorf("AMQP_URL is required when OUTCOME_PUBLISHER=amqp")
		}
		pub, err := notifcore.DialAMQPOutcomePublisher(cfg.AMQP.URL.Unmask(), cfg.AMQP.Queue)
		if err != nil {
			return nil, nil, err
		}
		recorders = append(recorders, notifcore.NewPublishingRecorder(pub, logger))
		closers = append(closers, pub)
	}
	return recorders, closers, nil
}

type awsClients struct {
	cloudwatch *cloudwatch.Client
	sqs        *sqs.Client
}

// workerID names this process in queue claims and logs.
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().Unix()%10000)
}
