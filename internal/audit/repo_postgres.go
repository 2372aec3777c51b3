package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. The table should reject UPDATE/DELETE.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

var _ Repository = (*PostgresRepo)(nil)

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, call_id, callback_id, patient_id, message, metadata, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, '')::jsonb, $8)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.CallID,
		e.CallbackID,
		e.PatientID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
