package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"billingsync/internal/metrics"
	"billingsync/internal/types"
)

// PurchaseStore is the persistence contract of the ledger. Every mutating
// method is a conditional update on the current status.
type PurchaseStore interface {
	GetByOrderID(ctx context.Context, orderID string) (*types.PendingPurchase, error)
	Claim(ctx context.Context, orderID string) (bool, error)
	MarkCompleted(ctx context.Context, orderID, paymentID string) error
	MarkFailed(ctx context.Context, orderID, paymentID, reason string) error
	RecordPaymentFailure(ctx context.Context, orderID, paymentID, reason string) (bool, error)
}

// TokenCreditor credits purchased tokens. It is called at most once per
// claimed purchase.
type TokenCreditor interface {
	CreditTokens(ctx context.Context, req types.CreditRequest) (types.CreditResult, error)
}

// HistoryRecorder stores diagnostic purchase history.
type HistoryRecorder interface {
	Record(ctx context.Context, entry types.PurchaseHistoryEntry) (string, error)
}

// Auditor is the fire-and-forget audit sink.
type Auditor interface {
	LogEvent(ctx context.Context, name string, attrs types.Attributes)
}

// PurchaseOutcome says what a ledger operation did.
type PurchaseOutcome string

const (
	OutcomeCompleted      PurchaseOutcome = "completed"
	OutcomeAlreadyClaimed PurchaseOutcome = "already_claimed"
	OutcomeOrderNotFound  PurchaseOutcome = "order_not_found"
	OutcomeFailed         PurchaseOutcome = "failed"
	OutcomeFailureIgnored PurchaseOutcome = "failure_ignored"

	// OutcomeAwaitingCapture means the checkout was confirmed but the
	// provider's payment.captured has not settled the order yet.
	OutcomeAwaitingCapture PurchaseOutcome = "awaiting_capture"
)

// Source identifies which path reported a payment.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceCheckout Source = "checkout"
)

// CapturedPayment is a provider-confirmed payment for an order.
type CapturedPayment struct {
	OrderID   string
	PaymentID string
	Method    string
	Source    Source

	// Reported is the amount the provider says it captured. Required.
	Reported *Money
}

// PurchaseResult is the explicit result of a ledger operation.
type PurchaseResult struct {
	Outcome    PurchaseOutcome
	OrderID    string
	PaymentID  string
	Status     types.PurchaseStatus
	NewBalance int64
}

const completionAttempts = 3

// Ledger owns the pending -> processing -> completed|failed lifecycle of
// one-time token purchases. The storage-level claim is the only mutual
// exclusion; Ledger holds no locks.
type Ledger struct {
	purchases PurchaseStore
	tokens    TokenCreditor
	history   HistoryRecorder
	audit     Auditor
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// NewLedger creates a Ledger. rec and logger may be nil.
func NewLedger(purchases PurchaseStore, tokens TokenCreditor, history HistoryRecorder, audit Auditor, rec metrics.Recorder, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Ledger{
		purchases: purchases,
		tokens:    tokens,
		history:   history,
		audit:     audit,
		metrics:   rec,
		logger:    logger,
	}
}

// Capture settles a captured payment exactly once.
//
// pay.Reported is always reconciled against the recorded order amount. A
// missing order, or one already claimed by another delivery, is a
// successful no-op. A reconciliation mismatch or a failed credit leaves the
// purchase failed and returns an error; the claim is never released.
func (l *Ledger) Capture(ctx context.Context, pay CapturedPayment) (PurchaseResult, error) {
	res := PurchaseResult{OrderID: pay.OrderID, PaymentID: pay.PaymentID}
	base := types.Attributes{
		"order_id":   pay.OrderID,
		"payment_id": pay.PaymentID,
		"source":     string(pay.Source),
	}

	if pay.Reported == nil {
		return res, types.NewAppError(types.ErrCodeValidationMissingField,
			"captured payment for order "+pay.OrderID+" carries no reported amount", nil)
	}

	purchase, err := l.purchases.GetByOrderID(ctx, pay.OrderID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundOrder {
			l.lookupMiss(ctx, EventPaymentCaptured, base)
			res.Outcome = OutcomeOrderNotFound
			return res, nil
		}
		return res, err
	}

	claimed, err := l.purchases.Claim(ctx, pay.OrderID)
	if err != nil {
		return res, err
	}
	if !claimed {
		l.logger.InfoContext(ctx, "purchase already claimed, ignoring delivery",
			"order_id", pay.OrderID,
			"payment_id", pay.PaymentID,
			"observed_status", string(purchase.Status),
		)
		l.audit.LogEvent(ctx, types.AuditPurchaseDuplicate, with(base, types.Attributes{
			"observed_status": string(purchase.Status),
		}))
		res.Outcome = OutcomeAlreadyClaimed
		res.Status = purchase.Status
		return res, nil
	}

	expected := Money{AmountMinor: purchase.AmountMinor, Currency: purchase.Currency}
	reported := *pay.Reported
	if rec := Reconcile(expected, reported); !rec.Matched {
		l.metrics.Count(ctx, types.MetricReconcileError, 1, nil)
		return l.fail(ctx, res, base, "reconciliation", rec.Reason, rec.Err())
	}

	credit, err := l.tokens.CreditTokens(ctx, types.CreditRequest{
		UserID:   purchase.UserID,
		PlanTier: purchase.PlanTier,
		Amount:   purchase.TokenAmount,
		AuditContext: map[string]string{
			"order_id":   pay.OrderID,
			"payment_id": pay.PaymentID,
			"source":     string(pay.Source),
		},
	})
	if err == nil && !credit.Success {
		err = errors.New("token service reported an unsuccessful credit")
	}
	if err != nil {
		reason := fmt.Sprintf("token credit failed: %v", err)
		return l.fail(ctx, res, base, "credit",
			reason, types.NewAppError(types.ErrCodeInternalCreditFailed, reason, err))
	}

	if _, err := l.history.Record(ctx, types.PurchaseHistoryEntry{
		UserID:        purchase.UserID,
		TokenAmount:   purchase.TokenAmount,
		CostMinor:     reported.AmountMinor,
		Currency:      reported.Currency,
		PaymentID:     pay.PaymentID,
		OrderID:       pay.OrderID,
		PaymentMethod: pay.Method,
		Status:        types.PurchaseStatusCompleted,
	}); err != nil {
		l.logger.WarnContext(ctx, "failed to record purchase history",
			"order_id", pay.OrderID,
			"error", err,
		)
	}

	if err := l.markCompleted(ctx, pay.OrderID, pay.PaymentID); err != nil {
		l.logger.ErrorContext(ctx, "tokens credited but purchase completion was not recorded",
			"order_id", pay.OrderID,
			"payment_id", pay.PaymentID,
			"user_id", purchase.UserID,
			"error", err,
		)
		l.audit.LogEvent(ctx, types.AuditPurchaseUnrecorded, with(base, types.Attributes{
			"user_id": purchase.UserID,
			"error":   err.Error(),
		}))
		return res, err
	}

	l.metrics.Count(ctx, types.MetricTokenCredited, float64(purchase.TokenAmount), map[string]string{
		types.DimEventName: string(pay.Source),
	})
	l.audit.LogEvent(ctx, types.AuditPurchaseCompleted, with(base, types.Attributes{
		"user_id":      purchase.UserID,
		"token_amount": purchase.TokenAmount,
		"new_balance":  credit.NewBalance,
	}))
	l.logger.InfoContext(ctx, "purchase completed",
		"order_id", pay.OrderID,
		"payment_id", pay.PaymentID,
		"tokens", purchase.TokenAmount,
		"new_balance", credit.NewBalance,
	)

	res.Outcome = OutcomeCompleted
	res.Status = types.PurchaseStatusCompleted
	res.NewBalance = credit.NewBalance
	return res, nil
}

// RecordFailure applies a provider payment.failed notification. Only
// pending or already-failed purchases change; a late failure for a claimed
// or completed purchase is recorded in the audit log and otherwise ignored.
func (l *Ledger) RecordFailure(ctx context.Context, pay PaymentEntity) (PurchaseResult, error) {
	res := PurchaseResult{OrderID: pay.OrderID, PaymentID: pay.ID}
	base := types.Attributes{"order_id": pay.OrderID, "payment_id": pay.ID}

	purchase, err := l.purchases.GetByOrderID(ctx, pay.OrderID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundOrder {
			l.lookupMiss(ctx, EventPaymentFailed, base)
			res.Outcome = OutcomeOrderNotFound
			return res, nil
		}
		return res, err
	}

	reason := failureReason(pay)
	changed, err := l.purchases.RecordPaymentFailure(ctx, pay.OrderID, pay.ID, reason)
	if err != nil {
		return res, err
	}
	if !changed {
		l.audit.LogEvent(ctx, types.AuditPurchaseFailIgnored, with(base, types.Attributes{
			"observed_status": string(purchase.Status),
			"reason":          reason,
		}))
		res.Outcome = OutcomeFailureIgnored
		res.Status = purchase.Status
		return res, nil
	}

	l.audit.LogEvent(ctx, types.AuditPurchaseFailed, with(base, types.Attributes{
		"stage":  "provider",
		"reason": reason,
	}))
	res.Outcome = OutcomeFailed
	res.Status = types.PurchaseStatusFailed
	return res, nil
}

// fail marks a claimed purchase failed and returns cause. A failure to
// persist the failed state is joined onto cause.
func (l *Ledger) fail(ctx context.Context, res PurchaseResult, base types.Attributes, stage, reason string, cause error) (PurchaseResult, error) {
	if err := l.purchases.MarkFailed(ctx, res.OrderID, res.PaymentID, reason); err != nil {
		l.logger.ErrorContext(ctx, "failed to mark purchase failed",
			"order_id", res.OrderID,
			"stage", stage,
			"error", err,
		)
		cause = errors.Join(cause, err)
	}
	l.audit.LogEvent(ctx, types.AuditPurchaseFailed, with(base, types.Attributes{
		"stage":  stage,
		"reason": reason,
	}))
	res.Outcome = OutcomeFailed
	res.Status = types.PurchaseStatusFailed
	return res, cause
}

// markCompleted retries transient database errors. A state conflict is not
// retried.
func (l *Ledger) markCompleted(ctx context.Context, orderID, paymentID string) error {
	var err error
	for attempt := 1; attempt <= completionAttempts; attempt++ {
		err = l.purchases.MarkCompleted(ctx, orderID, paymentID)
		if err == nil || types.CodeOf(err) == types.ErrCodeConflictOrderState {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return err
}

func (l *Ledger) lookupMiss(ctx context.Context, event EventName, attrs types.Attributes) {
	l.logger.WarnContext(ctx, "no pending purchase for order",
		"event", string(event),
		"order_id", attrs["order_id"],
	)
	l.metrics.Count(ctx, types.MetricLookupMiss, 1, map[string]string{
		types.DimEntity:    "order",
		types.DimEventName: string(event),
	})
	l.audit.LogEvent(ctx, types.AuditLookupMiss, with(attrs, types.Attributes{
		"entity": "order",
		"event":  string(event),
	}))
}

func failureReason(pay PaymentEntity) string {
	switch {
	case pay.ErrorDescription != "":
		return pay.ErrorDescription
	case pay.ErrorCode != "":
		return pay.ErrorCode
	default:
		return "payment failed at provider (status " + strconv.Quote(pay.Status) + ")"
	}
}

// with returns a new attribute set holding base overlaid with extra.
func with(base, extra types.Attributes) types.Attributes {
	out := make(types.Attributes, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
