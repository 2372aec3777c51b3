package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Repository is the Call Record Store contract.
//
// Write rules:
//   - Every state change goes through Transition, which is a conditional update
//     (compare-and-swap on the current status). Read-then-write is not allowed.
//   - CreateUnlessOpen checks for an open record and inserts in one atomic step.
//   - LinkCallback only succeeds on a record that has no callback yet.
type Repository interface {
	Get(ctx context.Context, id string) (CallRecord, error)

	// FindLatest returns the most recently created record matching q.
	// Returns (CallRecord{}, false, nil) when nothing matches.
	FindLatest(ctx context.Context, q MatchQuery) (CallRecord, bool, error)

	// CreateUnlessOpen inserts rec unless a record matching q already exists,
	// in which case that record is returned with created=false.
	CreateUnlessOpen(ctx context.Context, rec CallRecord, q MatchQuery) (out CallRecord, created bool, err error)

	// Transition applies u if the record's current status is one of u.From.
	// applied=false means the record moved on (or never existed): the caller lost.
	Transition(ctx context.Context, id string, u Update) (out CallRecord, applied bool, err error)

	LinkCallback(ctx context.Context, id, callbackType, callbackID string, at time.Time) (bool, error)

	List(ctx context.Context, f ListFilter) ([]CallRecord, int, error)

	// ListStale returns records in status created before the cutoff, oldest first.
	ListStale(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]CallRecord, error)
}

// MatchQuery is the windowed phone/direction/status lookup used to correlate
// follow-up events with an existing record.
type MatchQuery struct {
	// Phones are the raw/normalized/formatted variants of the event number.
	Phones []string
	// Digits is the normalized event number; records whose digits match are
	// considered the same phone regardless of how they were stored.
	Digits string

	Direction Direction
	Statuses  []Status
	Since     time.Time
}

func (q MatchQuery) validate() error {
	if len(q.Phones) == 0 && q.Digits == "" {
		return ErrInvalidArgument
	}
	if !q.Direction.Valid() || len(q.Statuses) == 0 {
		return ErrInvalidArgument
	}
	return nil
}

func (q MatchQuery) matches(c CallRecord) bool {
	if c.Direction != q.Direction {
		return false
	}
	if c.CreatedAt.Before(q.Since) {
		return false
	}
	okStatus := false
	for _, s := range q.Statuses {
		if c.Status == s {
			okStatus = true
			break
		}
	}
	if !okStatus {
		return false
	}
	if q.Digits != "" && c.CallerDigits == q.Digits {
		return true
	}
	for _, p := range q.Phones {
		if c.CallerNumber == p {
			return true
		}
	}
	return false
}

// Update describes a conditional state change.
// Nil pointer fields are left untouched.
type Update struct {
	From []Status
	To   Status

	StartedAt *time.Time
	EndedAt   *time.Time
	Duration  *int

	// PatientID is attached only when the record has none.
	PatientID string
	// CalledNumber replaces the stored value when non-empty.
	CalledNumber string

	Analysis *Analysis

	At time.Time
}

func (u Update) sources() ([]Status, error) {
	if !u.To.Valid() {
		return nil, ErrInvalidArgument
	}
	from := sourcesFor(u.From, u.To)
	if len(from) == 0 {
		return nil, ErrInvalidArgument
	}
	return from, nil
}

// ListFilter drives the dashboard read API.
type ListFilter struct {
	Direction Direction
	Status    Status

	// StartedFrom/StartedTo bound StartedAt (inclusive/exclusive). Zero means unbounded.
	StartedFrom time.Time
	StartedTo   time.Time

	// Search matches a substring of the stored number or its digits.
	Search string

	Offset int
	Limit  int
}
