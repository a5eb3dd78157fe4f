package db

import (
	"context"
	"log/slog"

	"billingsync/internal/types"
)

// AuditRepo persists audit events to webhook_audit_log.
type AuditRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db DBTX, logger *slog.Logger) *AuditRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRepo{db: db, logger: logger}
}

// Insert writes evt. Events are keyed by their id, so an event delivered
// twice by the audit queue is stored once.
func (r *AuditRepo) Insert(ctx context.Context, evt types.AuditEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_audit_log (
			id, name, request_id, provider_event_id, attributes, payload_zstd, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		evt.ID,
		evt.Name,
		nullIfEmpty(evt.RequestID),
		nullIfEmpty(evt.ProviderEventID),
		evt.Attributes,
		evt.Payload,
		evt.OccurredAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert audit event", err)
	}
	return nil
}

// ListByAttribute returns events whose attributes contain key=value, newest
// first. Payloads are not loaded.
func (r *AuditRepo) ListByAttribute(ctx context.Context, key, value string, limit int) ([]types.AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, name, COALESCE(request_id, ''), COALESCE(provider_event_id, ''), attributes, occurred_at
		 FROM webhook_audit_log
		 WHERE attributes @> $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		types.Attributes{key: value}, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query audit log", err)
	}
	defer rows.Close()

	var out []types.AuditEvent
	for rows.Next() {
		var evt types.AuditEvent
		if err := rows.Scan(
			&evt.ID,
			&evt.Name,
			&evt.RequestID,
			&evt.ProviderEventID,
			&evt.Attributes,
			&evt.OccurredAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan audit row", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating audit rows", err)
	}
	return out, nil
}
