package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-cti/pkg/utils"
)

// NOTE: This repository assumes the call_logs table from migrations/0001_cti.sql.
// There is no unique constraint on (caller_digits, direction):
// a phone may ring again after the window. Open-record uniqueness is kept by
// CreateUnlessOpen (advisory lock per phone+direction) and by Transition only
// ever being a conditional UPDATE.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

var _ Repository = (*PostgresRepo)(nil)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const callColumns = `id, direction, caller_number, caller_digits, called_number, status,
  started_at, ended_at, duration, patient_id, callback_type, callback_id,
  analysis, ext_info::text, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(s rowScanner) (CallRecord, error) {
	var (
		c            CallRecord
		called       sql.NullString
		endedAt      sql.NullTime
		patientID    sql.NullString
		callbackType sql.NullString
		callbackID   sql.NullString
		analysis     []byte
		extInfo      sql.NullString
	)
	if err := s.Scan(
		&c.ID,
		&c.Direction,
		&c.CallerNumber,
		&c.CallerDigits,
		&called,
		&c.Status,
		&c.StartedAt,
		&endedAt,
		&c.DurationSeconds,
		&patientID,
		&callbackType,
		&callbackID,
		&analysis,
		&extInfo,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return CallRecord{}, err
	}
	c.CalledNumber = called.String
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	c.PatientID = patientID.String
	c.CallbackType = callbackType.String
	c.CallbackID = callbackID.String
	c.ExtInfo = extInfo.String
	if len(analysis) > 0 {
		var a Analysis
		if err := json.Unmarshal(analysis, &a); err != nil {
			return CallRecord{}, fmt.Errorf("decode analysis: %w", err)
		}
		c.Analysis = &a
	}
	return c, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_logs WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return c, nil
}

func (r *PostgresRepo) FindLatest(ctx context.Context, q MatchQuery) (CallRecord, bool, error) {
	if err := q.validate(); err != nil {
		return CallRecord{}, false, err
	}
	return findLatest(ctx, r.db, q)
}

func findLatest(ctx context.Context, db queryer, q MatchQuery) (CallRecord, bool, error) {
	query := `SELECT ` + callColumns + `
FROM call_logs
WHERE (caller_number = ANY($1::text[]) OR ($2 <> '' AND caller_digits = $2))
  AND direction = $3
  AND status = ANY($4::text[])
  AND created_at >= $5
ORDER BY created_at DESC
LIMIT 1
`
	phones := q.Phones
	if phones == nil {
		phones = []string{}
	}
	c, err := scanCall(db.QueryRowContext(ctx, query, phones, q.Digits, string(q.Direction), statusStrings(q.Statuses), q.Since))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, false, nil
		}
		return CallRecord{}, false, err
	}
	return c, true, nil
}

func lockKey(q MatchQuery) string {
	key := q.Digits
	if key == "" && len(q.Phones) > 0 {
		key = q.Phones[0]
	}
	return key + "|" + string(q.Direction)
}

func (r *PostgresRepo) CreateUnlessOpen(ctx context.Context, rec CallRecord, q MatchQuery) (CallRecord, bool, error) {
	if rec.ID == "" || !rec.Direction.Valid() || !rec.Status.Valid() {
		return CallRecord{}, false, ErrInvalidArgument
	}
	if err := q.validate(); err != nil {
		return CallRecord{}, false, err
	}

	var (
		out     CallRecord
		created bool
	)
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Serializes concurrent creators for the same phone+direction until commit.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(q)); err != nil {
			return err
		}
		existing, ok, err := findLatest(ctx, tx, q)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}
		inserted, err := insertCall(ctx, tx, rec)
		if err != nil {
			return err
		}
		out, created = inserted, true
		return nil
	})
	if err != nil {
		return CallRecord{}, false, err
	}
	return out, created, nil
}

func insertCall(ctx context.Context, tx *sql.Tx, c CallRecord) (CallRecord, error) {
	analysis, err := encodeAnalysis(c.Analysis)
	if err != nil {
		return CallRecord{}, err
	}
	q := `
INSERT INTO call_logs (
  id, direction, caller_number, caller_digits, called_number, status,
  started_at, ended_at, duration, patient_id, callback_type, callback_id,
  analysis, ext_info, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,NULLIF($10,''),NULLIF($11,''),NULLIF($12,''),$13::jsonb,NULLIF($14,'')::jsonb,$15,$16
)
RETURNING ` + callColumns
	return scanCall(tx.QueryRowContext(ctx, q,
		c.ID,
		string(c.Direction),
		c.CallerNumber,
		c.CallerDigits,
		c.CalledNumber,
		string(c.Status),
		c.StartedAt,
		c.EndedAt,
		c.DurationSeconds,
		c.PatientID,
		c.CallbackType,
		c.CallbackID,
		analysis,
		c.ExtInfo,
		c.CreatedAt,
		c.UpdatedAt,
	))
}

func encodeAnalysis(a *Analysis) (any, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *PostgresRepo) Transition(ctx context.Context, id string, u Update) (CallRecord, bool, error) {
	from, err := u.sources()
	if err != nil {
		return CallRecord{}, false, err
	}
	analysis, err := encodeAnalysis(u.Analysis)
	if err != nil {
		return CallRecord{}, false, err
	}
	var duration any
	if u.Duration != nil {
		duration = *u.Duration
	}
	var startedAt, endedAt any
	if u.StartedAt != nil {
		startedAt = *u.StartedAt
	}
	if u.EndedAt != nil {
		endedAt = *u.EndedAt
	}

	q := `
UPDATE call_logs SET
  status        = $2,
  started_at    = COALESCE($3::timestamptz, started_at),
  ended_at      = COALESCE($4::timestamptz, ended_at),
  duration      = COALESCE($5::integer, duration),
  patient_id    = COALESCE(patient_id, NULLIF($6, '')),
  called_number = COALESCE(NULLIF($7, ''), called_number),
  analysis      = COALESCE($8::jsonb, analysis),
  updated_at    = $9
WHERE id = $1 AND status = ANY($10::text[])
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q,
		id,
		string(u.To),
		startedAt,
		endedAt,
		duration,
		u.PatientID,
		u.CalledNumber,
		analysis,
		u.At,
		statusStrings(from),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, false, nil
		}
		return CallRecord{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) LinkCallback(ctx context.Context, id, callbackType, callbackID string, at time.Time) (bool, error) {
	if callbackID == "" {
		return false, ErrInvalidArgument
	}
	const q = `
UPDATE call_logs
SET callback_type = NULLIF($2, ''), callback_id = $3, updated_at = $4
WHERE id = $1 AND callback_id IS NULL
`
	res, err := r.db.ExecContext(ctx, q, id, callbackType, callbackID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM call_logs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]CallRecord, int, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 7)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Direction != "" {
		where = append(where, "direction = "+arg(string(f.Direction)))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if !f.StartedFrom.IsZero() {
		where = append(where, "started_at >= "+arg(f.StartedFrom))
	}
	if !f.StartedTo.IsZero() {
		where = append(where, "started_at < "+arg(f.StartedTo))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := arg("%" + escapeLike(s) + "%")
		where = append(where, "(caller_number LIKE "+p+" OR caller_digits LIKE "+p+")")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM call_logs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + callColumns + ` FROM call_logs` + clause +
		` ORDER BY started_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepo) ListStale(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + callColumns + `
FROM call_logs
WHERE status = $1 AND created_at < $2
ORDER BY created_at ASC
LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, string(status), createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
