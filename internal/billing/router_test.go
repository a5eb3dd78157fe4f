package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billingsync/internal/types"
)

type routerFixture struct {
	*ledgerFixture
	subs     *memSubscriptions
	invoices *memInvoices
	router   *Router
}

func newRouterFixture() *routerFixture {
	lf := newLedgerFixture(pendingOrder())
	f := &routerFixture{
		ledgerFixture: lf,
		subs:          newMemSubscriptions(sub1(types.SubStatusCreated)),
		invoices:      newMemInvoices(),
	}
	machine := NewSubscriptionMachine(f.subs, f.invoices, lf.audit, lf.metrics, fixedClock{testNow}, nil)
	f.router = NewRouter(lf.ledger, machine, lf.audit, nil)
	return f
}

const capturedBody = `{"event":"payment.captured","payload":{"payment":{"entity":{
	"id":"pay_1","order_id":"ord_1","amount":19900,"currency":"INR","method":"upi"}}}}`

func TestRouter_Handle_PaymentCapturedReplay(t *testing.T) {
	f := newRouterFixture()
	ctx := context.Background()

	res, err := f.router.Handle(ctx, []byte(capturedBody))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentCaptured, res.Event)
	assert.Equal(t, string(OutcomeCompleted), res.Outcome)

	for i := 0; i < 3; i++ {
		res, err = f.router.Handle(ctx, []byte(capturedBody))
		require.NoError(t, err)
		assert.Equal(t, string(OutcomeAlreadyClaimed), res.Outcome)
	}
	assert.Equal(t, int64(500), f.balances.balance("user_1"))
}

func TestRouter_Handle_PaymentFailed(t *testing.T) {
	f := newRouterFixture()
	body := `{"event":"payment.failed","payload":{"payment":{"entity":{
		"id":"pay_2","order_id":"ord_1","amount":19900,"currency":"INR","error_code":"BAD_REQUEST_ERROR"}}}}`

	res, err := f.router.Handle(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeFailed), res.Outcome)

	row := f.purchases.get("ord_1")
	assert.Equal(t, types.PurchaseStatusFailed, row.Status)
	assert.Equal(t, "BAD_REQUEST_ERROR", *row.ErrorMessage)
}

func TestRouter_Handle_SubscriptionSequence(t *testing.T) {
	f := newRouterFixture()
	ctx := context.Background()

	bodies := []string{
		`{"event":"subscription.authenticated","payload":{"subscription":{"entity":{"id":"sub_1"}}}}`,
		`{"event":"subscription.activated","payload":{"subscription":{"entity":{"id":"sub_1","current_start":100,"current_end":200}}}}`,
		`{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":"sub_1","current_start":200,"current_end":300,"paid_count":1}},
			"payment":{"entity":{"id":"pay_c1","amount":49900,"currency":"INR"}}}}`,
		`{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":"sub_1","current_start":200,"current_end":300,"paid_count":1}},
			"payment":{"entity":{"id":"pay_c1","amount":49900,"currency":"INR"}}}}`,
	}
	for _, b := range bodies {
		_, err := f.router.Handle(ctx, []byte(b))
		require.NoError(t, err)
	}

	assert.Equal(t, types.SubStatusActive, f.subs.get("sub_1").Status)
	assert.Equal(t, 1, f.invoices.count())
}

func TestRouter_Handle_IgnoredEvent(t *testing.T) {
	f := newRouterFixture()

	res, err := f.router.Handle(context.Background(), []byte(`{"event":"order.paid","payload":{}}`))
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, "ignored", res.Outcome)
	assert.Equal(t, []string{types.AuditWebhookIgnored}, f.audit.names())
}

func TestRouter_Handle_ParseErrorsPassThrough(t *testing.T) {
	f := newRouterFixture()

	_, err := f.router.Handle(context.Background(), []byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationMalformedPayload, types.CodeOf(err))
	assert.Empty(t, f.audit.names())
}

func TestRouter_Handle_ProcessingErrorIsWrapped(t *testing.T) {
	f := newRouterFixture()
	f.balances.err = errBoom

	res, err := f.router.Handle(context.Background(), []byte(capturedBody))
	require.Error(t, err)
	assert.Equal(t, string(OutcomeFailed), res.Outcome)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalWebhookProcessing, appErr.Code)
	assert.Equal(t, 500, appErr.HTTPStatus())
	assert.Equal(t, string(types.ErrCodeInternalCreditFailed), appErr.Details["cause"])
	assert.Equal(t, "ord_1", appErr.Details["order_id"])
	assert.ErrorIs(t, err, errBoom)
}

func TestRouter_Handle_UnknownOrderIsNoOp(t *testing.T) {
	f := newRouterFixture()
	body := `{"event":"payment.captured","payload":{"payment":{"entity":{
		"id":"pay_1","order_id":"ord_missing","amount":1,"currency":"INR"}}}}`

	res, err := f.router.Handle(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeOrderNotFound), res.Outcome)
}
