package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/billing"
	"billingsync/internal/core"
	"billingsync/internal/types"
)

const auditTrailLimit = 50

// publicTrailAttributes are the audit attributes a status poller may see.
// User ids, balances and failure reasons stay server-side.
var publicTrailAttributes = []string{
	"order_id",
	"payment_id",
	"event",
	"source",
	"stage",
	"status",
	"observed_status",
}

// PurchaseReader loads a purchase by order id.
type PurchaseReader interface {
	GetByOrderID(ctx context.Context, orderID string) (*types.PendingPurchase, error)
}

// AuditTrail lists audit events whose attributes contain key=value.
type AuditTrail interface {
	ListByAttribute(ctx context.Context, key, value string, limit int) ([]types.AuditEvent, error)
}

// Confirmer verifies a client-relayed checkout confirmation and reports the
// order's state.
type Confirmer interface {
	Confirm(ctx context.Context, req billing.ConfirmRequest) (billing.PurchaseResult, error)
}

// PurchaseHandler serves the client-facing purchase endpoints used by the
// checkout page: the signed confirmation and the status poll.
type PurchaseHandler struct {
	purchases PurchaseReader
	trail     AuditTrail
	confirmer Confirmer
	validator *core.Validator
	logger    *slog.Logger
}

// NewPurchaseHandler creates a PurchaseHandler. trail may be nil when the
// audit log is not stored in Postgres.
func NewPurchaseHandler(purchases PurchaseReader, trail AuditTrail, confirmer Confirmer, v *core.Validator, logger *slog.Logger) *PurchaseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(logger)
	}
	return &PurchaseHandler{
		purchases: purchases,
		trail:     trail,
		confirmer: confirmer,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the purchase endpoints under the /v1 group.
func (h *PurchaseHandler) RegisterRoutes(r chi.Router) {
	r.Route("/purchases", func(r chi.Router) {
		r.Post("/confirm", h.Confirm)
		// No end-user auth here: the gateway only forwards this route from
		// the checkout frontend. Responses hold nothing beyond the order's
		// own status and a filtered audit trail.
		r.Get("/{orderId}", h.Get)
	})
}

// ConfirmResponse is the body of a successful confirmation.
type ConfirmResponse struct {
	OrderID    string               `json:"order_id"`
	PaymentID  string               `json:"payment_id"`
	Outcome    string               `json:"outcome"`
	Status     types.PurchaseStatus `json:"status,omitempty"`
	NewBalance int64                `json:"new_balance,omitempty"`
}

// Confirm handles POST /v1/purchases/confirm.
func (h *PurchaseHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req billing.ConfirmRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.confirmer.Confirm(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ConfirmResponse{
		OrderID:    res.OrderID,
		PaymentID:  res.PaymentID,
		Outcome:    string(res.Outcome),
		Status:     res.Status,
		NewBalance: res.NewBalance,
	}})
}

// PurchaseView is the status-poll representation of a purchase.
type PurchaseView struct {
	OrderID      string               `json:"order_id"`
	Status       types.PurchaseStatus `json:"status"`
	TokenAmount  int64                `json:"token_amount"`
	AmountMinor  int64                `json:"amount_minor"`
	Currency     string               `json:"currency"`
	PaymentID    *string              `json:"payment_id,omitempty"`
	ErrorMessage *string              `json:"error_message,omitempty"`
	UpdatedAt    time.Time            `json:"updated_at"`
	AuditTrail   []AuditEntry         `json:"audit_trail,omitempty"`
}

// AuditEntry is one audit event as shown to clients. Raw payloads are
// never returned.
type AuditEntry struct {
	Name       string           `json:"name"`
	OccurredAt time.Time        `json:"occurred_at"`
	Attributes types.Attributes `json:"attributes"`
}

// Get handles GET /v1/purchases/{orderId}.
func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	p, err := h.purchases.GetByOrderID(r.Context(), orderID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	view := PurchaseView{
		OrderID:      p.OrderID,
		Status:       p.Status,
		TokenAmount:  p.TokenAmount,
		AmountMinor:  p.AmountMinor,
		Currency:     p.Currency,
		PaymentID:    p.PaymentID,
		ErrorMessage: p.ErrorMessage,
		UpdatedAt:    p.UpdatedAt,
	}

	if h.trail != nil {
		events, err := h.trail.ListByAttribute(r.Context(), "order_id", orderID, auditTrailLimit)
		if err != nil {
			// The status is what the poller needs; the trail is a courtesy.
			h.logger.WarnContext(r.Context(), "failed to load audit trail",
				"order_id", orderID,
				"error", err,
			)
		}
		for _, e := range events {
			view.AuditTrail = append(view.AuditTrail, AuditEntry{
				Name:       e.Name,
				OccurredAt: e.OccurredAt,
				Attributes: publicAttributes(e.Attributes),
			})
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

func publicAttributes(attrs types.Attributes) types.Attributes {
	out := make(types.Attributes, len(publicTrailAttributes))
	for _, k := range publicTrailAttributes {
		if v, ok := attrs[k]; ok {
			out[k] = v
		}
	}
	return out
}
