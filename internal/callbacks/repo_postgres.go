package callbacks

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This repository assumes the callbacks table from migrations/0001_cti.sql.
// Completion is a conditional UPDATE on status; inline materialization relies
// on the primary key for insert-if-absent. The unique callbacks_call_idx
// keeps a call from completing two records.

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// heldBy returns the record callID already completed, for callers that lost
// the unique index race.
func (r *PostgresRepo) heldBy(ctx context.Context, callID string) (Record, error) {
	rec, ok, err := r.FindByCall(ctx, callID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

var _ Store = (*PostgresRepo)(nil)

const callbackColumns = `id, patient_id, type, scheduled_at, status, completed_at, call_id, origin, note, created_at, updated_at`

func scanRecord(row *sql.Row) (Record, error) {
	var (
		rec         Record
		completedAt sql.NullTime
		callID      sql.NullString
		note        sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.PatientID,
		&rec.Type,
		&rec.ScheduledAt,
		&rec.Status,
		&completedAt,
		&callID,
		&rec.Origin,
		&note,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	rec.CallID = callID.String
	rec.Note = note.String
	return rec, nil
}

func optional(rec Record, err error) (Record, bool, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT `+callbackColumns+` FROM callbacks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (r *PostgresRepo) FindPending(ctx context.Context, patientID string, day Day) (Record, bool, error) {
	q := `SELECT ` + callbackColumns + `
FROM callbacks
WHERE patient_id = $1 AND status = 'pending' AND scheduled_at >= $2 AND scheduled_at < $3
ORDER BY scheduled_at ASC
LIMIT 1`
	return optional(scanRecord(r.db.QueryRowContext(ctx, q, patientID, day.Start, day.End)))
}

func (r *PostgresRepo) FindByCall(ctx context.Context, callID string) (Record, bool, error) {
	if callID == "" {
		return Record{}, false, nil
	}
	q := `SELECT ` + callbackColumns + ` FROM callbacks WHERE call_id = $1 AND status = 'completed' LIMIT 1`
	return optional(scanRecord(r.db.QueryRowContext(ctx, q, callID)))
}

func (r *PostgresRepo) Complete(ctx context.Context, id, callID string, at time.Time) (Record, bool, error) {
	q := `
UPDATE callbacks
SET status = 'completed', completed_at = $3, call_id = $2, updated_at = $3
WHERE id = $1 AND status = 'pending'
RETURNING ` + callbackColumns
	rec, applied, err := optional(scanRecord(r.db.QueryRowContext(ctx, q, id, callID, at)))
	if isUniqueViolation(err) {
		held, err := r.heldBy(ctx, callID)
		return held, false, err
	}
	if err != nil || applied {
		return rec, applied, err
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return Record{}, false, err
	}
	return current, false, nil
}

func (r *PostgresRepo) InsertIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" || rec.PatientID == "" {
		return Record{}, false, ErrInvalidArgument
	}
	q := `
INSERT INTO callbacks (` + callbackColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11)
ON CONFLICT DO NOTHING
RETURNING ` + callbackColumns
	out, inserted, err := optional(scanRecord(r.db.QueryRowContext(ctx, q,
		rec.ID,
		rec.PatientID,
		string(rec.Type),
		rec.ScheduledAt,
		string(rec.Status),
		rec.CompletedAt,
		rec.CallID,
		rec.Origin,
		rec.Note,
		rec.CreatedAt,
		rec.UpdatedAt,
	)))
	if err != nil || inserted {
		return out, inserted, err
	}
	existing, err := r.Get(ctx, rec.ID)
	if errors.Is(err, ErrNotFound) && rec.CallID != "" {
		// The conflict was on call_id, not on the id.
		held, err := r.heldBy(ctx, rec.CallID)
		return held, false, err
	}
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}
