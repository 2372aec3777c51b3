package patients

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// NOTE: patients is owned by the admin system. This repository assumes the
// columns listed in migrations/0001_cti.sql, including phone_digits
// (maintained by a generated column) for suffix lookups.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

var _ Directory = (*PostgresRepo)(nil)

const patientColumns = `id, name, phone, phone_digits, next_action_date, next_action_type,
  last_contact_at, last_call_direction, call_count, created_at, updated_at`

func scanPatient(row *sql.Row) (Patient, bool, error) {
	var (
		p        Patient
		nextAt   sql.NullTime
		nextType sql.NullString
		lastAt   sql.NullTime
		lastDir  sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Phone,
		&p.PhoneDigits,
		&nextAt,
		&nextType,
		&lastAt,
		&lastDir,
		&p.CallCount,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Patient{}, false, nil
		}
		return Patient{}, false, err
	}
	if nextAt.Valid {
		t := nextAt.Time
		p.NextActionDate = &t
	}
	p.NextActionType = nextType.String
	if lastAt.Valid {
		t := lastAt.Time
		p.LastContactAt = &t
	}
	p.LastCallDirection = lastDir.String
	return p, true, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Patient, error) {
	p, ok, err := scanPatient(r.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return Patient{}, err
	}
	if !ok {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

func (r *PostgresRepo) FindByPhone(ctx context.Context, number string) (Patient, bool, error) {
	q := `SELECT ` + patientColumns + ` FROM patients WHERE phone = $1 ORDER BY created_at, id LIMIT 1`
	return scanPatient(r.db.QueryRowContext(ctx, q, number))
}

// suffixQuery inlines the suffix length so the planner can use
// patients_phone_suffix_idx, which is built on right(phone_digits, 8).
var suffixQuery = `SELECT ` + patientColumns + ` FROM patients WHERE right(phone_digits, ` +
	strconv.Itoa(SuffixDigits) + `) = $1 ORDER BY created_at, id LIMIT 1`

// FindByPhoneSuffix only serves SuffixDigits-long suffixes; other lengths
// never match.
func (r *PostgresRepo) FindByPhoneSuffix(ctx context.Context, suffix string) (Patient, bool, error) {
	if len(suffix) != SuffixDigits {
		return Patient{}, false, nil
	}
	return scanPatient(r.db.QueryRowContext(ctx, suffixQuery, suffix))
}

func (r *PostgresRepo) ClearNextAction(ctx context.Context, id string, expected time.Time, at time.Time) (bool, error) {
	const q = `
UPDATE patients
SET next_action_date = NULL, next_action_type = NULL, updated_at = $3
WHERE id = $1 AND next_action_date = $2
`
	res, err := r.db.ExecContext(ctx, q, id, expected, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) RecordContact(ctx context.Context, id, direction string, at time.Time) error {
	const q = `
UPDATE patients
SET last_contact_at = $2, last_call_direction = $3, call_count = call_count + 1, updated_at = $2
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, at, direction)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
