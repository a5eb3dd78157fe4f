package db

import (
	"context"
	"log/slog"
	"time"

	"billingsync/internal/types"

	"github.com/google/uuid"
)

// InvoiceRepo writes subscription invoices. payment_id is unique, so a
// redelivered charge event can never produce a second invoice.
type InvoiceRepo struct {
	db     DBTX
	logger *slog.Logger
	now    func() time.Time
}

// NewInvoiceRepo creates a new InvoiceRepo.
func NewInvoiceRepo(db DBTX, logger *slog.Logger) *InvoiceRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceRepo{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record inserts inv unless an invoice for the same payment already exists.
// ID, Status and PaidAt are filled in when empty. The boolean is true only
// when a new row was written.
func (r *InvoiceRepo) Record(ctx context.Context, inv *types.Invoice) (bool, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Status == "" {
		inv.Status = types.InvoiceStatusPaid
	}
	if inv.PaidAt.IsZero() {
		inv.PaidAt = r.now()
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscription_invoices (
			id, subscription_id, payment_id, amount_minor, currency,
			billing_period_start, billing_period_end, status, payment_method, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payment_id) DO NOTHING`,
		inv.ID,
		inv.SubscriptionID,
		inv.PaymentID,
		inv.AmountMinor,
		inv.Currency,
		inv.BillingPeriodStart,
		inv.BillingPeriodEnd,
		inv.Status,
		inv.PaymentMethod,
		inv.PaidAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record invoice", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "invoice already recorded for payment",
			slog.String("payment_id", inv.PaymentID),
			slog.String("subscription_id", inv.SubscriptionID),
		)
		return false, nil
	}
	return true, nil
}
