package db

import (
	"context"
	"fmt"
	"log/slog"

	"billingsync/internal/types"
)

// BalanceRepo is the in-database token-balance service, used when no
// external token service is configured. It satisfies the same contract as
// the HTTP client in package external.
type BalanceRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(db DBTX, logger *slog.Logger) *BalanceRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceRepo{db: db, logger: logger}
}

// CreditTokens adds req.Amount to the user's balance, creating the balance
// row on first credit, and returns the new balance.
func (r *BalanceRepo) CreditTokens(ctx context.Context, req types.CreditRequest) (types.CreditResult, error) {
	if req.Amount <= 0 {
		return types.CreditResult{}, types.NewAppError(types.ErrCodeValidationInvalidEntity,
			fmt.Sprintf("credit amount must be positive, got %d", req.Amount), nil)
	}
	tier := req.PlanTier
	if tier == "" {
		tier = types.PlanFree
	}

	var balance int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO user_token_balances (user_id, balance, plan_tier, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
			balance    = user_token_balances.balance + EXCLUDED.balance,
			plan_tier  = EXCLUDED.plan_tier,
			updated_at = NOW()
		 RETURNING balance`,
		req.UserID, req.Amount, tier,
	).Scan(&balance)
	if err != nil {
		return types.CreditResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to credit tokens", err)
	}

	r.logger.InfoContext(ctx, "tokens credited",
		slog.String("user_id", req.UserID),
		slog.Int64("amount", req.Amount),
		slog.Int64("new_balance", balance),
		slog.String("order_id", req.AuditContext["order_id"]),
	)
	return types.CreditResult{Success: true, NewBalance: balance}, nil
}
