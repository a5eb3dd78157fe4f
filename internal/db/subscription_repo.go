package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"billingsync/internal/types"

	"github.com/jackc/pgx/v5"
)

// SubscriptionRepo manages subscription state driven by provider webhooks.
//
// Transitions are applied with a single UPDATE whose WHERE clause lists the
// allowed predecessor states of the target status. Out-of-order and
// duplicate deliveries therefore match zero rows instead of regressing the
// row, and the caller sees applied == false.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// GetByProviderID loads a subscription by the provider's subscription id.
// Returns ErrCodeNotFoundSubscription if no row exists.
func (r *SubscriptionRepo) GetByProviderID(ctx context.Context, providerSubID string) (*types.Subscription, error) {
	var s types.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, provider_subscription_id, status,
		        current_period_start, current_period_end, next_billing_at,
		        paid_count, remaining_count, cancel_at_cycle_end,
		        created_at, updated_at
		 FROM subscriptions
		 WHERE provider_subscription_id = $1`,
		providerSubID,
	).Scan(
		&s.ID,
		&s.UserID,
		&s.ProviderSubscriptionID,
		&s.Status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.NextBillingAt,
		&s.PaidCount,
		&s.RemainingCount,
		&s.CancelAtCycleEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription,
				fmt.Sprintf("no subscription with provider id %s", providerSubID), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return &s, nil
}

// ApplyUpdate moves the subscription to upd.Status and writes any non-nil
// billing fields. The update only matches when the stored status is an
// allowed predecessor of upd.Status. It returns false when no row matched.
func (r *SubscriptionRepo) ApplyUpdate(ctx context.Context, providerSubID string, upd types.SubscriptionUpdate) (bool, error) {
	if !upd.Status.IsValid() {
		return false, types.NewAppError(types.ErrCodeValidationInvalidEntity,
			fmt.Sprintf("unknown subscription status %q", upd.Status), nil)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET
			status               = $2,
			current_period_start = COALESCE($3, current_period_start),
			current_period_end   = COALESCE($4, current_period_end),
			next_billing_at      = COALESCE($5, next_billing_at),
			paid_count           = COALESCE($6, paid_count),
			remaining_count      = COALESCE($7, remaining_count),
			cancel_at_cycle_end  = CASE WHEN $8 THEN FALSE ELSE cancel_at_cycle_end END,
			updated_at           = NOW()
		 WHERE provider_subscription_id = $1 AND status = ANY($9)`,
		providerSubID,
		upd.Status,
		upd.CurrentPeriodStart,
		upd.CurrentPeriodEnd,
		upd.NextBillingAt,
		upd.PaidCount,
		upd.RemainingCount,
		upd.ClearCancelAtEnd,
		stringArray(types.AllowedPredecessors(upd.Status)),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.DebugContext(ctx, "subscription update matched no row",
			slog.String("provider_subscription_id", providerSubID),
			slog.String("target_status", string(upd.Status)),
		)
		return false, nil
	}
	return true, nil
}
