package core

import (
	"context"
	"errors"
	"time"

	"reviewsms/internal/types"
)

// TestMessenger sends one-off messages with the same formatter and gateway
// the engine uses. It writes nothing and never advances the rotation counter.
type TestMessenger struct {
	targets   []types.Target
	gateway   types.SMSGateway
	formatter *Formatter
	timeout   time.Duration
	logger    types.Logger
}

// NewTestMessenger creates a TestMessenger. A nil formatter gets the default
// company name and a non-positive timeout becomes 10s.
func NewTestMessenger(targets []types.Target, gw types.SMSGateway, f *Formatter, timeout time.Duration, logger types.Logger) (*TestMessenger, error) {
	if len(targets) == 0 {
		return nil, errors.New("test messenger needs at least one target")
	}
	if gw == nil {
		return nil, errors.New("test messenger needs a gateway")
	}
	if f == nil {
		f = NewFormatter("")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &TestMessenger{targets: targets, gateway: gw, formatter: f, timeout: timeout, logger: logger}, nil
}

// SendTest formats and sends msg. An unknown platform is a validation error;
// gateway failures are returned as-is.
func (m *TestMessenger) SendTest(ctx context.Context, msg types.TestSMS) (types.TestSMSResult, error) {
	target, ok := m.target(msg.Platform)
	if !ok {
		return types.TestSMSResult{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"unknown review platform", nil, map[string]any{"platform": msg.Platform})
	}

	firstName := msg.CustomerFirstName
	if firstName == "" {
		firstName = "there"
	}
	body := m.formatter.Format(firstName, msg.SalesRepName, target.URL)

	sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	sid, err := m.gateway.Send(sendCtx, msg.Phone, body)
	if err != nil {
		m.logger.Warn("test sms failed", "platform", target.Name, "error", err)
		return types.TestSMSResult{}, err
	}

	m.logger.Info("test sms sent", "platform", target.Name, "sid", sid)
	return types.TestSMSResult{ProviderMessageID: sid, Platform: target.Name, Body: body}, nil
}

func (m *TestMessenger) target(name string) (types.Target, bool) {
	if name == "" {
		return m.targets[0], true
	}
	for _, t := range m.targets {
		if t.Name == name {
			return t, true
		}
	}
	return types.Target{}, false
}
