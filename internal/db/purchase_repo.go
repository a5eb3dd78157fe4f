package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"billingsync/internal/types"

	"github.com/jackc/pgx/v5"
)

// PurchaseRepo owns the pending_token_purchases table. Status only moves
// forward (pending -> processing -> completed|failed) and every move is a
// compare-and-set on the current status.
type PurchaseRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPurchaseRepo creates a new PurchaseRepo backed by the given database
// connection (pool or transaction).
func NewPurchaseRepo(db DBTX, logger *slog.Logger) *PurchaseRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurchaseRepo{db: db, logger: logger}
}

const purchaseColumns = `order_id, user_id, plan_tier, token_amount, amount_minor, currency,
	status, payment_id, error_message, created_at, updated_at`

func scanPurchase(row pgx.Row) (*types.PendingPurchase, error) {
	var p types.PendingPurchase
	err := row.Scan(
		&p.OrderID,
		&p.UserID,
		&p.PlanTier,
		&p.TokenAmount,
		&p.AmountMinor,
		&p.Currency,
		&p.Status,
		&p.PaymentID,
		&p.ErrorMessage,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByOrderID returns the purchase for a provider order id.
// Returns ErrCodeNotFoundOrder if no row exists.
func (r *PurchaseRepo) GetByOrderID(ctx context.Context, orderID string) (*types.PendingPurchase, error) {
	p, err := scanPurchase(r.db.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM pending_token_purchases WHERE order_id = $1`,
		orderID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder,
				fmt.Sprintf("no pending purchase for order %s", orderID), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load pending purchase", err)
	}
	return p, nil
}

// Claim moves a purchase from pending to processing. It returns true only
// for the single caller whose update matched; every concurrent or later
// caller gets false. The claim is the exactly-once gate for token credit.
func (r *PurchaseRepo) Claim(ctx context.Context, orderID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_token_purchases
		 SET status = $2, updated_at = NOW()
		 WHERE order_id = $1 AND status = $3`,
		orderID, types.PurchaseStatusProcessing, types.PurchaseStatusPending,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim pending purchase", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted records the settling payment on a claimed purchase.
// Returns ErrCodeConflictOrderState if the purchase is not processing.
func (r *PurchaseRepo) MarkCompleted(ctx context.Context, orderID, paymentID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_token_purchases
		 SET status = $2, payment_id = $3, error_message = NULL, updated_at = NOW()
		 WHERE order_id = $1 AND status = $4`,
		orderID, types.PurchaseStatusCompleted, paymentID, types.PurchaseStatusProcessing,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete purchase", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictOrderState,
			fmt.Sprintf("purchase %s is not processing", orderID), nil)
	}
	return nil
}

// MarkFailed fails a claimed purchase after a reconciliation mismatch or a
// rejected credit. Returns ErrCodeConflictOrderState if the purchase is not
// processing.
func (r *PurchaseRepo) MarkFailed(ctx context.Context, orderID, paymentID, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_token_purchases
		 SET status = $2, payment_id = $3, error_message = $4, updated_at = NOW()
		 WHERE order_id = $1 AND status = $5`,
		orderID, types.PurchaseStatusFailed, nullIfEmpty(paymentID), reason, types.PurchaseStatusProcessing,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark purchase failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictOrderState,
			fmt.Sprintf("purchase %s is not processing", orderID), nil)
	}
	return nil
}

// RecordPaymentFailure applies a provider payment.failed notification. Only
// pending or already-failed purchases are touched, so a late failure never
// overwrites a purchase that has been claimed or completed. The boolean
// reports whether a row changed.
func (r *PurchaseRepo) RecordPaymentFailure(ctx context.Context, orderID, paymentID, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_token_purchases
		 SET status = $2, payment_id = COALESCE($3, payment_id), error_message = $4, updated_at = NOW()
		 WHERE order_id = $1 AND status = ANY($5)`,
		orderID, types.PurchaseStatusFailed, nullIfEmpty(paymentID), reason,
		stringArray([]types.PurchaseStatus{types.PurchaseStatusPending, types.PurchaseStatusFailed}),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record payment failure", err)
	}
	return tag.RowsAffected() > 0, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
