package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"billingsync/internal/types"
)

// HMACVerifier implements WebhookVerifier and CheckoutVerifier for providers
// that sign with hex-encoded HMAC-SHA256.
//
// Webhooks are signed over the raw request body with the webhook secret.
// Checkout confirmations are signed over "order_id|payment_id" with the API
// key secret.
type HMACVerifier struct {
	webhookSecret types.SecretString
	keySecret     types.SecretString
}

// NewHMACVerifier creates an HMACVerifier. Either secret may be empty, in
// which case every check keyed by it fails.
func NewHMACVerifier(webhookSecret, keySecret types.SecretString) *HMACVerifier {
	return &HMACVerifier{
		webhookSecret: webhookSecret,
		keySecret:     keySecret,
	}
}

// Verify checks a webhook signature header against the raw body.
func (v *HMACVerifier) Verify(payload []byte, signature string) bool {
	return verifyHMAC(v.webhookSecret, payload, signature)
}

// VerifyCheckout checks the signature returned to the client by the
// provider's checkout widget.
func (v *HMACVerifier) VerifyCheckout(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return verifyHMAC(v.keySecret, []byte(orderID+"|"+paymentID), signature)
}

// ComputeSignature returns the hex HMAC-SHA256 of payload under secret.
func ComputeSignature(secret types.SecretString, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret.Unmask()))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC fails closed on an unset secret or an empty signature. The
// comparison runs in constant time over equal-length inputs; a length
// mismatch is rejected before comparing.
func verifyHMAC(secret types.SecretString, payload []byte, signature string) bool {
	if secret.IsZero() || signature == "" {
		return false
	}
	expected := ComputeSignature(secret, payload)
	got := strings.ToLower(strings.TrimSpace(signature))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

var (
	_ WebhookVerifier  = (*HMACVerifier)(nil)
	_ CheckoutVerifier = (*HMACVerifier)(nil)
)
