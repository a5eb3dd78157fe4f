package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billingsync/internal/types"
)

func TestParseEvent_PaymentCaptured(t *testing.T) {
	body := `{
		"event": "payment.captured",
		"created_at": 1700000000,
		"payload": {"payment": {"entity": {
			"id": "pay_1", "order_id": "ord_1", "amount": 19900,
			"currency": "INR", "status": "captured", "method": "upi"
		}}}
	}`

	evt, err := ParseEvent([]byte(body))
	require.NoError(t, err)

	pe, ok := evt.(PaymentEvent)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, EventPaymentCaptured, pe.Name())
	assert.Equal(t, "ord_1", pe.Payment.OrderID)
	assert.Equal(t, int64(19900), pe.Payment.Amount)
	assert.Equal(t, "upi", pe.Payment.Method)
	assert.Equal(t, "pay_1", pe.Attributes()["payment_id"])
}

func TestParseEvent_SubscriptionCharged(t *testing.T) {
	body := `{
		"event": "subscription.charged",
		"payload": {
			"subscription": {"entity": {
				"id": "sub_1", "status": "active",
				"current_start": 1700000000, "current_end": 1702592000,
				"charge_at": 1702592000, "paid_count": "2", "remaining_count": 10
			}},
			"payment": {"entity": {"id": "pay_c1", "amount": 49900, "currency": "INR"}}
		}
	}`

	evt, err := ParseEvent([]byte(body))
	require.NoError(t, err)

	sc, ok := evt.(SubscriptionCharged)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, "sub_1", sc.Subscription.ID)
	assert.Equal(t, "pay_c1", sc.Payment.ID)
	require.NotNil(t, sc.Subscription.PaidCount)
	assert.Equal(t, 2, *sc.Subscription.PaidCount.intPtr())
	assert.Equal(t, 10, *sc.Subscription.RemainingCount.intPtr())
}

func TestParseEvent_SubscriptionLifecycle(t *testing.T) {
	for _, name := range []EventName{
		EventSubscriptionAuthenticated,
		EventSubscriptionActivated,
		EventSubscriptionCancelled,
		EventSubscriptionPaused,
		EventSubscriptionResumed,
		EventSubscriptionCompleted,
	} {
		t.Run(string(name), func(t *testing.T) {
			body := `{"event":"` + string(name) + `","payload":{"subscription":{"entity":{"id":"sub_1"}}}}`
			evt, err := ParseEvent([]byte(body))
			require.NoError(t, err)
			se, ok := evt.(SubscriptionEvent)
			require.True(t, ok, "got %T", evt)
			assert.Equal(t, name, se.Name())
		})
	}
}

func TestParseEvent_UnknownEventIsIgnored(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"event":"refund.created","payload":{"refund":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, IgnoredEvent{Event: "refund.created"}, evt)
}

func TestParseEvent_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"not json", `{"event":`, types.ErrCodeValidationMalformedPayload},
		{"missing event", `{"payload":{}}`, types.ErrCodeValidationMissingField},
		{"missing payload", `{"event":"payment.captured"}`, types.ErrCodeValidationMissingField},
		{"null payload", `{"event":"payment.captured","payload":null}`, types.ErrCodeValidationMissingField},
		{"missing payment entity", `{"event":"payment.captured","payload":{}}`, types.ErrCodeValidationMissingField},
		{
			"missing order id",
			`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1","currency":"INR"}}}}`,
			types.ErrCodeValidationMissingField,
		},
		{
			"missing payment id",
			`{"event":"payment.captured","payload":{"payment":{"entity":{"order_id":"ord_1","currency":"INR"}}}}`,
			types.ErrCodeValidationInvalidEntity,
		},
		{
			"negative amount",
			`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"p","order_id":"o","amount":-1,"currency":"INR"}}}}`,
			types.ErrCodeValidationInvalidEntity,
		},
		{
			"charged without payment",
			`{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":"sub_1"}}}}`,
			types.ErrCodeValidationMissingField,
		},
		{
			"subscription without id",
			`{"event":"subscription.paused","payload":{"subscription":{"entity":{"status":"paused"}}}}`,
			types.ErrCodeValidationInvalidEntity,
		},
		{
			"non-numeric count",
			`{"event":"subscription.activated","payload":{"subscription":{"entity":{"id":"s","paid_count":"two"}}}}`,
			types.ErrCodeValidationMalformedPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := ParseEvent([]byte(tt.body))
			require.Error(t, err)
			assert.Nil(t, evt)
			assert.Equal(t, tt.code, types.CodeOf(err))
		})
	}
}

func TestEventName_IsKnown(t *testing.T) {
	assert.True(t, EventPaymentCaptured.IsKnown())
	assert.True(t, EventSubscriptionCharged.IsKnown())
	assert.False(t, EventName("order.paid").IsKnown())
}

func TestEpochToTime(t *testing.T) {
	assert.Nil(t, epochToTime(nil))
	assert.Nil(t, epochToTime(int64p(0)))

	got := epochToTime(int64p(1_700_000_000))
	require.NotNil(t, got)
	assert.Equal(t, int64(1_700_000_000), got.Unix())
}
