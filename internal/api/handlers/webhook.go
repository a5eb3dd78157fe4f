// Package handlers contains the HTTP handlers of the billing sync service.
//
// The webhook handler is not behind any authentication middleware: it is
// called by the payment provider and authenticates each request by its HMAC
// signature header, computed over the byte-exact raw body.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/billing"
	"billingsync/internal/core"
	"billingsync/internal/external"
	"billingsync/internal/metrics"
	"billingsync/internal/types"
)

const (
	// WebhookPath is the endpoint registered with the payment provider.
	WebhookPath = "/webhook"

	defaultMaxWebhookBody = 64 * 1024
)

// WebhookRouter parses and dispatches a verified webhook body.
type WebhookRouter interface {
	Handle(ctx context.Context, body []byte) (billing.DispatchResult, error)
}

// PayloadAuditor records audit events that carry the raw request body.
type PayloadAuditor interface {
	LogEventWithPayload(ctx context.Context, name string, attrs types.Attributes, raw []byte)
}

// WebhookConfig holds the request-level settings of the webhook endpoint.
type WebhookConfig struct {
	SignatureHeader string
	EventIDHeader   string
	MaxBodyBytes    int64
}

// WebhookHandler is the provider-facing edge: read, verify, dispatch,
// respond.
type WebhookHandler struct {
	verifier external.WebhookVerifier
	router   WebhookRouter
	audit    PayloadAuditor
	metrics  metrics.Recorder
	cfg      WebhookConfig
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. rec and logger may be nil.
func NewWebhookHandler(
	verifier external.WebhookVerifier,
	router WebhookRouter,
	audit PayloadAuditor,
	rec metrics.Recorder,
	cfg WebhookConfig,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Razorpay-Signature"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxWebhookBody
	}
	return &WebhookHandler{
		verifier: verifier,
		router:   router,
		audit:    audit,
		metrics:  rec,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Every method is routed to
// Handle so that non-POST requests get the webhook's own 405 response.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc(WebhookPath, h.Handle)
}

// Handle processes one webhook delivery.
//
// Responses: 200 {"success":true} for processed, duplicate, unknown-entity
// and ignored events; 400 for malformed payloads; 401 for a missing or
// invalid signature; 405 for non-POST; 500 for processing failures, which
// the provider redelivers.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		core.Error(w, r, types.NewAppError(types.ErrCodeMethodNotAllowed, "webhook accepts POST only", nil))
		return
	}

	ctx := r.Context()
	if h.cfg.EventIDHeader != "" {
		if eventID := r.Header.Get(h.cfg.EventIDHeader); eventID != "" {
			ctx = types.WithProviderEventID(ctx, eventID)
			r = r.WithContext(ctx)
		}
	}

	body, err := core.ReadBody(w, r, h.cfg.MaxBodyBytes)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, err)
		return
	}

	signature := r.Header.Get(h.cfg.SignatureHeader)
	if signature == "" {
		h.reject(ctx, body, "missing signature header")
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureMissing,
			"missing "+h.cfg.SignatureHeader+" header", nil))
		return
	}
	if !h.verifier.Verify(body, signature) {
		h.reject(ctx, body, "signature mismatch")
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed", nil))
		return
	}

	res, err := h.router.Handle(ctx, body)
	h.count(ctx, res, err)
	if err != nil {
		h.fail(ctx, body, res, err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"success": true})
}

func (h *WebhookHandler) reject(ctx context.Context, body []byte, reason string) {
	h.logger.WarnContext(ctx, "webhook rejected",
		"reason", reason,
		"provider_event_id", types.GetProviderEventID(ctx),
	)
	h.audit.LogEventWithPayload(ctx, types.AuditWebhookRejected, types.Attributes{
		"reason": reason,
	}, body)
}

// fail audits a parse or processing failure together with the raw body.
func (h *WebhookHandler) fail(ctx context.Context, body []byte, res billing.DispatchResult, err error) {
	code := types.CodeOf(err)
	attrs := types.Attributes{
		"code":  string(code),
		"error": err.Error(),
	}
	if res.Event != "" {
		attrs["event"] = string(res.Event)
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		for k, v := range appErr.Details {
			if _, taken := attrs[k]; !taken {
				attrs[k] = v
			}
		}
	}

	if code.Retryable() {
		h.logger.ErrorContext(ctx, "webhook processing failed",
			"event", string(res.Event),
			"code", string(code),
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, "webhook payload rejected",
			"code", string(code),
			"error", err,
		)
	}
	h.audit.LogEventWithPayload(ctx, types.AuditWebhookFailed, attrs, body)
}

func (h *WebhookHandler) count(ctx context.Context, res billing.DispatchResult, err error) {
	outcome := res.Outcome
	if err != nil {
		outcome = string(types.CodeOf(err))
	}
	event := string(res.Event)
	if event == "" {
		event = "unparsed"
	}
	h.metrics.Count(ctx, types.MetricBillingEvent, 1, map[string]string{
		types.DimEventName: event,
		types.DimStatus:    outcome,
	})
}
