package billing

import (
	"context"
	"log/slog"

	"billingsync/internal/types"
)

// CheckoutVerifier checks the signature the provider's checkout widget hands
// back to the client. Satisfied by *external.HMACVerifier.
type CheckoutVerifier interface {
	VerifyCheckout(orderID, paymentID, signature string) bool
}

// ConfirmRequest is a client-relayed checkout confirmation.
type ConfirmRequest struct {
	OrderID   string `json:"order_id" validate:"required,max=64"`
	PaymentID string `json:"payment_id" validate:"required,max=64"`
	Signature string `json:"signature" validate:"required,hexadecimal,len=64"`
	Method    string `json:"method,omitempty" validate:"omitempty,max=32"`
}

// PurchaseReader loads a purchase by order id.
type PurchaseReader interface {
	GetByOrderID(ctx context.Context, orderID string) (*types.PendingPurchase, error)
}

// CheckoutConfirmer handles the client-side confirmation the checkout page
// relays after payment. The checkout signature proves the provider issued
// payment_id for order_id, but not what amount was captured, so the
// confirmation never credits tokens. Crediting belongs to payment.captured,
// which carries the captured amount through reconciliation. Confirm reports
// where the order stands.
type CheckoutConfirmer struct {
	verifier  CheckoutVerifier
	purchases PurchaseReader
	audit     Auditor
	logger    *slog.Logger
}

func NewCheckoutConfirmer(verifier CheckoutVerifier, purchases PurchaseReader, audit Auditor, logger *slog.Logger) *CheckoutConfirmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutConfirmer{verifier: verifier, purchases: purchases, audit: audit, logger: logger}
}

// Confirm verifies req and returns the order's settlement state. An invalid
// signature returns auth_signature_invalid; an unknown order returns
// not_found_order. Neither path mutates the purchase.
func (c *CheckoutConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (PurchaseResult, error) {
	res := PurchaseResult{OrderID: req.OrderID, PaymentID: req.PaymentID}
	attrs := types.Attributes{
		"order_id":   req.OrderID,
		"payment_id": req.PaymentID,
		"source":     string(SourceCheckout),
	}

	if !c.verifier.VerifyCheckout(req.OrderID, req.PaymentID, req.Signature) {
		c.logger.WarnContext(ctx, "checkout confirmation signature rejected",
			"order_id", req.OrderID,
			"payment_id", req.PaymentID,
		)
		c.audit.LogEvent(ctx, types.AuditWebhookRejected, with(attrs, types.Attributes{
			"reason": "invalid checkout signature",
		}))
		return res, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "checkout signature verification failed", nil)
	}

	purchase, err := c.purchases.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundOrder {
			res.Outcome = OutcomeOrderNotFound
		}
		return res, err
	}

	res.Status = purchase.Status
	switch purchase.Status {
	case types.PurchaseStatusCompleted:
		res.Outcome = OutcomeCompleted
	case types.PurchaseStatusFailed:
		res.Outcome = OutcomeFailed
	default:
		res.Outcome = OutcomeAwaitingCapture
	}

	c.audit.LogEvent(ctx, types.AuditPurchaseConfirmed, with(attrs, types.Attributes{
		"observed_status": string(purchase.Status),
	}))
	return res, nil
}
