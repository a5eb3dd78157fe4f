package db

import (
	"context"

	"billingsync/internal/types"

	"github.com/google/uuid"
)

// PurchaseHistoryRepo appends rows to token_purchase_history. History is
// diagnostic; callers log and continue when a write fails.
type PurchaseHistoryRepo struct {
	db DBTX
}

func NewPurchaseHistoryRepo(db DBTX) *PurchaseHistoryRepo {
	return &PurchaseHistoryRepo{db: db}
}

// Record inserts entry and returns the generated id.
func (r *PurchaseHistoryRepo) Record(ctx context.Context, entry types.PurchaseHistoryEntry) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(ctx,
		`INSERT INTO token_purchase_history (
			id, user_id, token_amount, cost_minor, currency,
			payment_id, order_id, payment_method, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		id,
		entry.UserID,
		entry.TokenAmount,
		entry.CostMinor,
		entry.Currency,
		entry.PaymentID,
		entry.OrderID,
		entry.PaymentMethod,
		entry.Status,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to record purchase history", err)
	}
	return id, nil
}
