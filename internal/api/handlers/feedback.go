// Package handlers contains the HTTP handlers of the review SMS API: the
// transaction webhook, cancellation, and the admin views over the pipeline.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"reviewsms/internal/core"
	"reviewsms/internal/types"
)

// FeedbackService is the scheduler surface the handlers depend on.
type FeedbackService interface {
	Schedule(ctx context.Context, tx types.Transaction) (types.JobHandle, error)
	Cancel(ctx context.Context, transactionID string) (bool, error)
	Status(ctx context.Context) (types.QueueStats, error)
	Job(ctx context.Context, transactionID string) (*types.Job, error)
	Retry(ctx context.Context, transactionID string) (types.JobHandle, error)
	RetryFailed(ctx context.Context, since time.Time, limit int) (types.BulkRetryResult, error)
}

// TestSender sends an operator test message outside the pipeline.
type TestSender interface {
	SendTest(ctx context.Context, msg types.TestSMS) (types.TestSMSResult, error)
}

// Bulk retry bounds.
const (
	DefaultBulkRetryLimit = 50
	MaxBulkRetryLimit     = 500
)

// TransactionRequest is the body of POST /webhook/transaction-complete.
type TransactionRequest struct {
	TransactionID          string     `json:"transactionId" validate:"required,max=255"`
	CustomerID             string     `json:"customerId" validate:"required,max=255"`
	CustomerFirstName      string     `json:"customerFirstName" validate:"required,max=100"`
	CustomerPhone          string     `json:"customerPhone" validate:"required,max=20,sms_phone"`
	SalesRepName           string     `json:"salesRepName" validate:"required,max=100"`
	TransactionCompletedAt *time.Time `json:"transactionCompletedAt" validate:"required"`
}

// ScheduleResponse is returned by the submit and manual retry routes.
type ScheduleResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	JobID         string    `json:"jobId"`
	TransactionID string    `json:"transactionId"`
	ScheduledAt   time.Time `json:"scheduledAt"`
}

// CancelResponse is returned by a successful cancellation.
type CancelResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId"`
}

// QueueStatusResponse wraps the pipeline counters.
type QueueStatusResponse struct {
	Success bool             `json:"success"`
	Queue   types.QueueStats `json:"queue"`
}

// JobResponse wraps a stored job.
type JobResponse struct {
	Success bool       `json:"success"`
	Job     *types.Job `json:"job"`
}

// BulkRetryResponse reports a bulk retry pass.
type BulkRetryResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Since   time.Time             `json:"since"`
	Results types.BulkRetryResult `json:"results"`
}

// TestSMSRequest is the body of POST /admin/test-sms.
type TestSMSRequest struct {
	Phone             string `json:"phone" validate:"required,max=20,sms_phone"`
	CustomerFirstName string `json:"customerFirstName" validate:"max=100"`
	SalesRepName      string `json:"salesRepName" validate:"max=100"`
	Platform          string `json:"platform" validate:"max=50"`
}

// TestSMSResponse wraps a sent test message.
type TestSMSResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Result  types.TestSMSResult `json:"result"`
}

// FeedbackHandler serves the webhook and admin routes.
type FeedbackHandler struct {
	svc       FeedbackService
	tester    TestSender
	validator *core.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewFeedbackHandler creates a FeedbackHandler.
func NewFeedbackHandler(svc FeedbackService, v *core.Validator, l *slog.Logger) *FeedbackHandler {
	if l == nil {
		l = slog.Default()
	}
	return &FeedbackHandler{svc: svc, validator: v, logger: l, now: time.Now}
}

// WithTestSender enables POST /admin/test-sms. Without one the route answers
// that no gateway is configured.
func (h *FeedbackHandler) WithTestSender(t TestSender) *FeedbackHandler {
	h.tester = t
	return h
}

// RegisterRoutes mounts the handler on r.
func (h *FeedbackHandler) RegisterRoutes(r chi.Router) {
	r.Route("/webhook", func(r chi.Router) {
		r.Post("/transaction-complete", h.SubmitTransaction)
		r.Delete("/cancel/{transactionId}", h.CancelTransaction)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Get("/queue-status", h.QueueStatus)
		r.Get("/jobs/{transactionId}", h.GetJob)
		r.Post("/jobs/retry", h.RetryFailedJobs)
		r.Post("/jobs/{transactionId}/retry", h.RetryJob)
		r.Post("/test-sms", h.SendTestSMS)
	})
}

// SubmitTransaction handles POST /webhook/transaction-complete. The phone is
// sanitized before validation. Replays of a known transaction succeed with
// the original schedule.
func (h *FeedbackHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.CustomerPhone = types.SanitizePhone(req.CustomerPhone)

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	handle, err := h.svc.Schedule(r.Context(), types.Transaction{
		TransactionID:          req.TransactionID,
		CustomerID:             req.CustomerID,
		CustomerFirstName:      req.CustomerFirstName,
		CustomerPhone:          req.CustomerPhone,
		SalesRepName:           req.SalesRepName,
		TransactionCompletedAt: req.TransactionCompletedAt.UTC(),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to schedule feedback sms",
			"transaction_id", req.TransactionID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, ScheduleResponse{
		Success:       true,
		Message:       "SMS feedback request scheduled",
		JobID:         handle.EntryID,
		TransactionID: handle.TransactionID,
		ScheduledAt:   handle.ScheduledAt,
	})
}

// CancelTransaction handles DELETE /webhook/cancel/{transactionId}.
func (h *FeedbackHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	cancelled, err := h.svc.Cancel(r.Context(), transactionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !cancelled {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundJob,
			"No scheduled SMS found for this transaction", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, CancelResponse{
		Success:       true,
		Message:       "Scheduled SMS cancelled",
		TransactionID: transactionID,
	})
}

// QueueStatus handles GET /admin/queue-status.
func (h *FeedbackHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Status(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, QueueStatusResponse{Success: true, Queue: stats})
}

// GetJob handles GET /admin/jobs/{transactionId}.
func (h *FeedbackHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Job(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, JobResponse{Success: true, Job: job})
}

// RetryJob handles POST /admin/jobs/{transactionId}/retry.
func (h *FeedbackHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	handle, err := h.svc.Retry(r.Context(), transactionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual retry requested", "transaction_id", transactionID)
	core.JSON(w, r, http.StatusOK, ScheduleResponse{
		Success:       true,
		Message:       "Failed SMS re-enqueued",
		JobID:         handle.EntryID,
		TransactionID: handle.TransactionID,
		ScheduledAt:   handle.ScheduledAt,
	})
}

// RetryFailedJobs handles POST /admin/jobs/retry. Query parameters: limit
// (default 50, at most 500) and since (RFC 3339, default start of the current
// UTC day).
func (h *FeedbackHandler) RetryFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit := DefaultBulkRetryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxBulkRetryLimit {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
				"limit must be between 1 and 500", err, map[string]any{"field": "limit"}))
			return
		}
		limit = n
	}

	since := h.now().UTC().Truncate(24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
				"since must be an RFC 3339 timestamp", err, map[string]any{"field": "since"}))
			return
		}
		since = t.UTC()
	}

	res, err := h.svc.RetryFailed(r.Context(), since, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "bulk retry requested",
		"since", since,
		"limit", limit,
		"retried", res.Retried,
	)
	core.JSON(w, r, http.StatusOK, BulkRetryResponse{
		Success: true,
		Message: fmt.Sprintf("Retried %d of %d failed SMS", res.Retried, res.Considered),
		Since:   since,
		Results: res,
	})
}

// SendTestSMS handles POST /admin/test-sms.
func (h *FeedbackHandler) SendTestSMS(w http.ResponseWriter, r *http.Request) {
	if h.tester == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"SMS gateway is not configured", nil))
		return
	}

	var req TestSMSRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.Phone = types.SanitizePhone(req.Phone)
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.tester.SendTest(r.Context(), types.TestSMS{
		Phone:             req.Phone,
		CustomerFirstName: req.CustomerFirstName,
		SalesRepName:      req.SalesRepName,
		Platform:          req.Platform,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, TestSMSResponse{
		Success: true,
		Message: "Test SMS sent",
		Result:  res,
	})
}
