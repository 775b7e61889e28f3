package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reviewsms/internal/types"
)

func newTestTwilio(serverURL string, cfg TwilioClientConfig) *TwilioClient {
	cfg.BaseURL = serverURL
	base := newTestClient(fastPolicy(1, false))
	return NewTwilioClientWithBase(base, cfg)
}

func TestTwilioSend_UsesFromNumber(t *testing.T) {
	var (
		gotPath          string
		gotUser, gotPass string
		gotForm          map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotForm = map[string]string{
			"To":                  r.PostForm.Get("To"),
			"Body":                r.PostForm.Get("Body"),
			"From":                r.PostForm.Get("From"),
			"MessagingServiceSid": r.PostForm.Get("MessagingServiceSid"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer server.Close()

	client := newTestTwilio(server.URL, TwilioClientConfig{
		AccountSID: "AC1",
		AuthToken:  "secret",
		From:       "+15550001111",
	})

	sid, err := client.Send(context.Background(), "+15551234567", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "SM123" {
		t.Errorf("expected sid SM123, got %q", sid)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Messages.json" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotUser != "AC1" || gotPass != "secret" {
		t.Errorf("unexpected basic auth %q:%q", gotUser, gotPass)
	}
	if gotForm["To"] != "+15551234567" || gotForm["Body"] != "hello" || gotForm["From"] != "+15550001111" {
		t.Errorf("unexpected form %v", gotForm)
	}
	if gotForm["MessagingServiceSid"] != "" {
		t.Errorf("expected no messaging service sid, got %q", gotForm["MessagingServiceSid"])
	}
}

func TestTwilioSend_PrefersMessagingService(t *testing.T) {
	var from, mss string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		from = r.PostForm.Get("From")
		mss = r.PostForm.Get("MessagingServiceSid")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM9"}`))
	}))
	defer server.Close()

	client := newTestTwilio(server.URL, TwilioClientConfig{
		AccountSID:          "AC1",
		AuthToken:           "secret",
		From:                "+15550001111",
		MessagingServiceSID: "MG42",
	})

	if _, err := client.Send(context.Background(), "+15551234567", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mss != "MG42" || from != "" {
		t.Errorf("expected MessagingServiceSid only, got from=%q mss=%q", from, mss)
	}
}

func TestTwilioSend_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","more_info":"https://www.twilio.com/docs/errors/21211","status":400}`))
	}))
	defer server.Close()

	client := newTestTwilio(server.URL, TwilioClientConfig{AccountSID: "AC1", AuthToken: "x", From: "+1555"})

	_, err := client.Send(context.Background(), "+10000000000", "hi")
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamSMSRejected {
		t.Errorf("expected %s, got %s", types.ErrCodeUpstreamSMSRejected, appErr.Code)
	}
	if appErr.Details["twilio_code"] != 21211 {
		t.Errorf("expected twilio_code detail, got %v", appErr.Details)
	}
}

func TestTwilioSend_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestTwilio(server.URL, TwilioClientConfig{AccountSID: "AC1", AuthToken: "x", From: "+1555"})

	_, err := client.Send(context.Background(), "+15551234567", "hi")
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamSMSGateway {
		t.Fatalf("expected %s, got %v", types.ErrCodeUpstreamSMSGateway, err)
	}
}

func TestTwilioSend_MissingSID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestTwilio(server.URL, TwilioClientConfig{AccountSID: "AC1", AuthToken: "x", From: "+1555"})

	if _, err := client.Send(context.Background(), "+15551234567", "hi"); err == nil {
		t.Fatal("expected error for response without sid")
	}
}

func TestTwilioSend_HonorsDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestTwilio(server.URL, TwilioClientConfig{AccountSID: "AC1", AuthToken: "x", From: "+1555"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Send(ctx, "+15551234567", "hi")
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("send did not respect the deadline")
	}
}
