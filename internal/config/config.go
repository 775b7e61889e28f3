// Package config defines the process configuration for the review SMS
// service. Configuration is loaded once at startup and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> *_FILE secret files (Lowest)
//
// A missing required value or invalid format fails startup.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"reviewsms/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sms-feedback-system"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Database DatabaseConfig
	Delivery DeliveryConfig
	Rotation RotationConfig
	Twilio   TwilioConfig
	AWS      AWSConfig
	AMQP     AMQPConfig
	Sweeper  SweeperConfig

	// Build metadata (injected via ldflags, not env).
	Build BuildInfo
}

// ServerConfig holds HTTP server settings and the pre-shared API credential.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"3000"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	CORSOrigins    []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// APIKeyHash is a bcrypt hash of the key and takes precedence over APIKey.
	APIKey     SecretString `envconfig:"API_KEY"`
	APIKeyHash SecretString `envconfig:"API_KEY_HASH"`
}

// RequireAPIKey fails unless a pre-shared API credential is configured. Only
// processes that serve HTTP call it.
func (s ServerConfig) RequireAPIKey() error {
	if s.APIKey.IsEmpty() && s.APIKeyHash.IsEmpty() {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "API_KEY or API_KEY_HASH must be set",
		}
	}
	return nil
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"20"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	MaxConnIdleTime   time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"30s"`
	ConnectTimeout    time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DATABASE_AUTO_MIGRATE" default:"false"`
}

// DeliveryConfig tunes the schedule, retry, and worker behavior.
type DeliveryConfig struct {
	DelayMinutes     int           `envconfig:"SMS_DELAY_MINUTES" default:"30" validate:"gte=0"`
	MaxAttempts      int           `envconfig:"MAX_RETRY_ATTEMPTS" default:"3" validate:"gte=1"`
	BackoffBase      time.Duration `envconfig:"RETRY_BACKOFF_BASE" default:"60s" validate:"gt=0"`
	Concurrency      int           `envconfig:"WORKER_CONCURRENCY" default:"5" validate:"gte=1"`
	PollInterval     time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1s" validate:"gt=0"`
	LeaseDuration    time.Duration `envconfig:"WORKER_LEASE_DURATION" default:"5m" validate:"gt=0"`
	DrainTimeout     time.Duration `envconfig:"WORKER_DRAIN_TIMEOUT" default:"30s"`
	GatewayTimeout   time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s" validate:"gt=0"`
	CompanyName      string        `envconfig:"COMPANY_NAME" default:"America First"`
	OutcomePublisher string        `envconfig:"OUTCOME_PUBLISHER" default:"none" validate:"oneof=none sqs amqp"`
	MetricsEnabled   bool          `envconfig:"METRICS_ENABLED" default:"false"`
}

// Delay returns the configured schedule-to-send interval.
func (d DeliveryConfig) Delay() time.Duration {
	return time.Duration(d.DelayMinutes) * time.Minute
}

// RotationConfig lists the review platforms and how one is chosen.
type RotationConfig struct {
	GoogleReviewsURL string `envconfig:"GOOGLE_REVIEWS_URL"`
	TrustpilotURL    string `envconfig:"TRUSTPILOT_URL"`

	// ExtraTargets appends platforms as "name|url|weight" entries separated
	// by commas.
	ExtraTargets []string `envconfig:"REVIEW_TARGETS"`

	Strategy       string `envconfig:"ROTATION_STRATEGY" default:"round_robin" validate:"oneof=round_robin weighted"`
	CounterBackend string `envconfig:"ROTATION_COUNTER" default:"postgres" validate:"oneof=memory postgres"`
}

// Targets builds the ordered target list: google, trustpilot, then any
// extra entries. Platforms without a URL are skipped.
func (r RotationConfig) Targets() ([]types.Target, error) {
	var targets []types.Target
	if r.GoogleReviewsURL != "" {
		targets = append(targets, types.Target{Name: "google", URL: r.GoogleReviewsURL, Weight: 1})
	}
	if r.TrustpilotURL != "" {
		targets = append(targets, types.Target{Name: "trustpilot", URL: r.TrustpilotURL, Weight: 1})
	}
	for _, raw := range r.ExtraTargets {
		t, err := parseTarget(raw)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "at least one review target must be configured (GOOGLE_REVIEWS_URL, TRUSTPILOT_URL or REVIEW_TARGETS)",
		}
	}
	return targets, nil
}

func parseTarget(raw string) (types.Target, error) {
	parts := strings.Split(strings.TrimSpace(raw), "|")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return types.Target{}, &ConfigError{
			Type:    ErrParsing,
			Message: fmt.Sprintf("invalid review target %q, want name|url[|weight]", raw),
		}
	}
	t := types.Target{Name: parts[0], URL: parts[1], Weight: 1}
	if len(parts) == 3 {
		w, err := strconv.Atoi(parts[2])
		if err != nil || w <= 0 {
			return types.Target{}, &ConfigError{
				Type:    ErrParsing,
				Message: fmt.Sprintf("invalid weight in review target %q", raw),
				Err:     err,
			}
		}
		t.Weight = w
	}
	return t, nil
}

// TwilioConfig holds the SMS gateway credentials.
type TwilioConfig struct {
	AccountSID          string       `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken           SecretString `envconfig:"TWILIO_AUTH_TOKEN"`
	PhoneNumber         string       `envconfig:"TWILIO_PHONE_NUMBER"`
	MessagingServiceSID string       `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	BaseURL             string       `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com" validate:"url"`
}

// Require fails unless the credentials and a sender are configured. The
// worker cannot start without them; the API only uses them for test sends.
func (t TwilioConfig) Require() error {
	var missing []string
	if t.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if t.AuthToken.IsEmpty() {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if t.PhoneNumber == "" && t.MessagingServiceSID == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER or TWILIO_MESSAGING_SERVICE_SID")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "missing SMS gateway settings: " + strings.Join(missing, ", "),
		}
	}
	return nil
}

// AWSConfig holds AWS region and resource identifiers for metrics and
// outcome events.
type AWSConfig struct {
	Region           string `envconfig:"AWS_REGION" default:"us-east-1"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"ReviewSMS"`
	OutcomeQueueURL  string `envconfig:"SQS_OUTCOME_QUEUE_URL" validate:"omitempty,url"`
}

// AMQPConfig holds the RabbitMQ connection used by the amqp outcome publisher.
type AMQPConfig struct {
	URL   SecretString `envconfig:"AMQP_URL"`
	Queue string       `envconfig:"AMQP_OUTCOME_QUEUE" default:"sms_feedback_outcomes"`
}

// SweeperConfig tunes the recovery sweep that rebuilds missing queue entries.
type SweeperConfig struct {
	Interval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m" validate:"gt=0"`
	Grace     time.Duration `envconfig:"SWEEP_GRACE" default:"2m"`
	BatchSize int           `envconfig:"SWEEP_BATCH_SIZE" default:"200" validate:"gte=1"`
	LockTTL   time.Duration `envconfig:"SWEEP_LOCK_TTL" default:"10m" validate:"gt=0"`
}

// BuildInfo contains build metadata injected at compile time.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}
