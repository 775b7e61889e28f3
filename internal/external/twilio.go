package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reviewsms/internal/types"
)

const twilioAPIBase = "https://api.twilio.com"

// TwilioClientConfig holds the credentials and sender for TwilioClient.
// MessagingServiceSID takes precedence over From when both are set.
type TwilioClientConfig struct {
	AccountSID          string
	AuthToken           string
	From                string
	MessagingServiceSID string
	BaseURL             string
	Logger              types.Logger
}

// TwilioClient sends SMS through the Twilio Programmable Messaging REST API.
type TwilioClient struct {
	base   *BaseClient
	cfg    TwilioClientConfig
	logger types.Logger
}

var _ types.SMSGateway = (*TwilioClient)(nil)

// NewTwilioClient creates a client whose breaker and retries are tuned for a
// non-idempotent send: only 429 responses are retried in-client, everything
// else is left to the delivery queue.
func NewTwilioClient(httpClient *http.Client, cfg TwilioClientConfig) *TwilioClient {
	base := NewBaseClient(
		httpClient,
		BreakerSettings{Name: "twilio", ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second},
		RetryPolicy{MaxRetries: 2, MinWait: time.Second, MaxWait: 5 * time.Second},
		"reviewsms/1.0",
	)
	return NewTwilioClientWithBase(base, cfg)
}

// NewTwilioClientWithBase creates a TwilioClient over a pre-built BaseClient.
func NewTwilioClientWithBase(base *BaseClient, cfg TwilioClientConfig) *TwilioClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &TwilioClient{base: base, cfg: cfg, logger: logger}
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

// Send posts one message and returns its Twilio SID.
func (c *TwilioClient) Send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", body)
	if c.cfg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", c.cfg.MessagingServiceSID)
	} else {
		form.Set("From", c.cfg.From)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.cfg.BaseURL, url.PathEscape(c.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build twilio request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.base.Do(req)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok {
			return "", types.NewAppError(types.ErrCodeUpstreamSMSGateway, "twilio unavailable: "+appErr.Message, appErr)
		}
		return "", types.NewAppError(types.ErrCodeUpstreamSMSGateway, "twilio request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamSMSGateway, "failed to read twilio response", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", c.rejection(resp.StatusCode, raw)
	}

	var msg twilioMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.SID == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamSMSGateway, "twilio response missing message sid", err)
	}

	c.logger.Debug("twilio accepted message", "sid", msg.SID, "status", msg.Status)
	return msg.SID, nil
}

func (c *TwilioClient) rejection(status int, raw []byte) error {
	var te twilioError
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &te); err == nil && te.Message != "" {
		msg = te.Message
	}

	details := map[string]any{"http_status": status}
	if te.Code != 0 {
		details["twilio_code"] = te.Code
	}
	if te.MoreInfo != "" {
		details["more_info"] = te.MoreInfo
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamSMSRejected,
		fmt.Sprintf("twilio rejected message (%d): %s", status, msg),
		nil,
		details,
	)
}
