// Package db provides the PostgreSQL repositories behind the billing engine:
// pending purchases, subscriptions, invoices, purchase history, token
// balances and the webhook audit log. All repositories accept a DBTX, which
// is satisfied by both *pgxpool.Pool and pgx.Tx.
//
// Every state change is a single conditional statement. Callers learn
// whether they won a race from the affected row count, never from a prior
// read.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// stringArray converts typed string enums into a []string parameter for
// "= ANY($n)" predicates.
func stringArray[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
