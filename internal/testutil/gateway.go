package testutil

import (
	"context"
	"fmt"
	"sync"

	"reviewsms/internal/types"
)

// SentMessage is one call captured by Gateway.
type SentMessage struct {
	To   string
	Body string
}

// Gateway is a scripted types.SMSGateway. Each Send consumes the next entry
// of Errors; once Errors is exhausted Send succeeds.
type Gateway struct {
	mu     sync.Mutex
	Errors []error
	Sent   []SentMessage
	calls  int

	// SendFunc, when set, replaces the scripted behavior.
	SendFunc func(ctx context.Context, to, body string) (string, error)
}

var _ types.SMSGateway = (*Gateway)(nil)

func (g *Gateway) Send(ctx context.Context, to, body string) (string, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	var err error
	if len(g.Errors) > 0 {
		err, g.Errors = g.Errors[0], g.Errors[1:]
	}
	fn := g.SendFunc
	g.mu.Unlock()

	if fn != nil {
		sid, ferr := fn(ctx, to, body)
		if ferr == nil {
			g.record(to, body)
		}
		return sid, ferr
	}
	if err != nil {
		return "", err
	}
	g.record(to, body)
	return fmt.Sprintf("SM%04d", call), nil
}

// Calls returns how many times Send was invoked.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Messages returns a copy of the successfully sent messages.
func (g *Gateway) Messages() []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SentMessage(nil), g.Sent...)
}

func (g *Gateway) record(to, body string) {
	g.mu.Lock()
	g.Sent = append(g.Sent, SentMessage{To: to, Body: body})
	g.mu.Unlock()
}
