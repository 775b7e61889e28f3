package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSecretResolution ConfigErrorType = "SECRET_FILE_FAILURE"
	ErrValidation       ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing          ConfigErrorType = "PARSING_FAILED"
)

// ConfigError is returned by LoadConfig to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretFileSuffix marks variables that point at a file holding the secret,
// e.g. TWILIO_AUTH_TOKEN_FILE=/run/secrets/twilio_token.
const secretFileSuffix = "_FILE"

// loaderDeps holds the injectable OS dependencies of the loader.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
	readFile  func(name string) ([]byte, error)
	loadDot   func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		readFile:  os.ReadFile,
		loadDot:   func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the configuration.
//
// Steps:
//  1. Force the process timezone to UTC.
//  2. Load .env if present (it never overrides the real environment).
//  3. Resolve *_FILE secret pointers whose target variable is unset.
//  4. Populate Config via envconfig.
//  5. Attach build metadata.
//  6. Validate struct tags and cross-field rules.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	_ = deps.loadDot()

	if err := resolveSecretFiles(deps); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := validateOutcomePublisher(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validateOutcomePublisher(cfg *Config) error {
	switch cfg.Delivery.OutcomePublisher {
	case "sqs":
		if cfg.AWS.OutcomeQueueURL == "" {
			return &ConfigError{
				Type:    ErrValidation,
				Message: "OUTCOME_PUBLISHER=sqs requires SQS_OUTCOME_QUEUE_URL",
			}
		}
	case "amqp":
		if cfg.AMQP.URL.IsEmpty() {
			return &ConfigError{
				Type:    ErrValidation,
				Message: "OUTCOME_PUBLISHER=amqp requires AMQP_URL",
			}
		}
	}
	return nil
}

// resolveSecretFiles scans the environment for *_FILE variables and, for each
// one whose target variable is not already set, reads the file and injects
// its trimmed content as the target value.
func resolveSecretFiles(deps loaderDeps) error {
	for _, entry := range deps.environ() {
		eq := strings.IndexByte(entry, '=')
		if eq < 0 {
			continue
		}
		key, path := entry[:eq], entry[eq+1:]
		if !strings.HasSuffix(key, secretFileSuffix) || path == "" {
			continue
		}

		target := strings.TrimSuffix(key, secretFileSuffix)
		if target == "" {
			continue
		}
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}

		raw, err := deps.readFile(path)
		if err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to read secret file for %s", target),
				Err:     err,
			}
		}
		if err := deps.setEnv(target, strings.TrimSpace(string(raw))); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	return nil
}
