package external

import (
	"context"

	"billingsync/internal/types"
)

// WebhookVerifier authenticates an inbound provider webhook. Verify must be
// called on the byte-exact raw body before any parsing.
type WebhookVerifier interface {
	// Verify reports whether signature is the expected signature of payload.
	// It never returns true for an empty signature or an unset secret.
	Verify(payload []byte, signature string) bool
}

// CheckoutVerifier authenticates the signature the provider hands back to
// the client after a successful checkout.
type CheckoutVerifier interface {
	VerifyCheckout(orderID, paymentID, signature string) bool
}

// TokenService credits purchased tokens to a user's balance.
type TokenService interface {
	CreditTokens(ctx context.Context, req types.CreditRequest) (types.CreditResult, error)
}
