package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

const testWebhookSecret = "whsec_test_secret"

// sign computes the reference signature independently of ComputeSignature.
func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHMACVerifier_Verify(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{}}`)
	valid := sign(testWebhookSecret, body)
	v := NewHMACVerifier(testWebhookSecret, "")

	tests := []struct {
		name      string
		payload   []byte
		signature string
		want      bool
	}{
		{"valid signature", body, valid, true},
		{"uppercase hex accepted", body, strings.ToUpper(valid), true},
		{"surrounding whitespace accepted", body, " " + valid + " ", true},
		{"empty signature", body, "", false},
		{"wrong signature", body, sign("other-secret", body), false},
		{"truncated signature", body, valid[:len(valid)-2], false},
		{"body mutated by one byte", []byte(`{"event":"payment.captured","payload":{} }`), valid, false},
		{"not hex", body, "zz" + valid[2:], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Verify(tt.payload, tt.signature); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHMACVerifier_FailsClosedWithoutSecret(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	v := NewHMACVerifier("", "")

	// Signature computed with an empty key must still be rejected.
	if v.Verify(body, sign("", body)) {
		t.Error("Verify() with unset secret returned true")
	}
	if v.VerifyCheckout("order_1", "pay_1", sign("", []byte("order_1|pay_1"))) {
		t.Error("VerifyCheckout() with unset key secret returned true")
	}
}

func TestHMACVerifier_VerifyCheckout(t *testing.T) {
	const keySecret = "key_secret_abc"
	v := NewHMACVerifier(testWebhookSecret, keySecret)
	good := sign(keySecret, []byte("order_9|pay_7"))

	if !v.VerifyCheckout("order_9", "pay_7", good) {
		t.Error("valid checkout signature rejected")
	}
	if v.VerifyCheckout("order_9", "pay_8", good) {
		t.Error("signature for a different payment accepted")
	}
	if v.VerifyCheckout("order_9", "pay_7", sign(testWebhookSecret, []byte("order_9|pay_7"))) {
		t.Error("checkout signed with the webhook secret accepted")
	}
	if v.VerifyCheckout("", "pay_7", good) {
		t.Error("empty order id accepted")
	}
}

func TestComputeSignature_MatchesReference(t *testing.T) {
	body := []byte("raw body bytes")
	if got, want := ComputeSignature(testWebhookSecret, body), sign(testWebhookSecret, body); got != want {
		t.Errorf("ComputeSignature() = %s, want %s", got, want)
	}
}
