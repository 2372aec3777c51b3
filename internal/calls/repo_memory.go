package calls

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository used by tests and local runs.
// A single mutex makes every method atomic, which gives the same
// match-and-set guarantees as the conditional SQL statements.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]CallRecord{}} }

var _ Repository = (*MemoryRepo)(nil)

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return cloneRecord(c), nil
}

func (r *MemoryRepo) FindLatest(ctx context.Context, q MatchQuery) (CallRecord, bool, error) {
	if err := q.validate(); err != nil {
		return CallRecord{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.latestLocked(q)
	return c, ok, nil
}

func (r *MemoryRepo) latestLocked(q MatchQuery) (CallRecord, bool) {
	var best CallRecord
	found := false
	for _, c := range r.records {
		if !q.matches(c) {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) {
			best = c
			found = true
		}
	}
	if !found {
		return CallRecord{}, false
	}
	return cloneRecord(best), true
}

func (r *MemoryRepo) CreateUnlessOpen(ctx context.Context, rec CallRecord, q MatchQuery) (CallRecord, bool, error) {
	if rec.ID == "" || !rec.Direction.Valid() || !rec.Status.Valid() {
		return CallRecord{}, false, ErrInvalidArgument
	}
	if err := q.validate(); err != nil {
		return CallRecord{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.latestLocked(q); ok {
		return existing, false, nil
	}
	if _, dup := r.records[rec.ID]; dup {
		return CallRecord{}, false, ErrInvalidArgument
	}
	r.records[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), true, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, u Update) (CallRecord, bool, error) {
	from, err := u.sources()
	if err != nil {
		return CallRecord{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[id]
	if !ok {
		return CallRecord{}, false, nil
	}
	match := false
	for _, s := range from {
		if c.Status == s {
			match = true
			break
		}
	}
	if !match {
		return cloneRecord(c), false, nil
	}

	c.Status = u.To
	if u.StartedAt != nil {
		c.StartedAt = *u.StartedAt
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		c.EndedAt = &t
	}
	if u.Duration != nil {
		c.DurationSeconds = *u.Duration
	}
	if c.PatientID == "" && u.PatientID != "" {
		c.PatientID = u.PatientID
	}
	if u.CalledNumber != "" {
		c.CalledNumber = u.CalledNumber
	}
	if u.Analysis != nil {
		a := *u.Analysis
		c.Analysis = &a
	}
	c.UpdatedAt = u.At
	r.records[id] = c
	return cloneRecord(c), true, nil
}

func (r *MemoryRepo) LinkCallback(ctx context.Context, id, callbackType, callbackID string, at time.Time) (bool, error) {
	if callbackID == "" {
		return false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.CallbackID != "" {
		return false, nil
	}
	c.CallbackType = callbackType
	c.CallbackID = callbackID
	c.UpdatedAt = at
	r.records[id] = c
	return true, nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]CallRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]CallRecord, 0)
	for _, c := range r.records {
		if f.Direction != "" && c.Direction != f.Direction {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if !f.StartedFrom.IsZero() && c.StartedAt.Before(f.StartedFrom) {
			continue
		}
		if !f.StartedTo.IsZero() && !c.StartedAt.Before(f.StartedTo) {
			continue
		}
		if f.Search != "" && !strings.Contains(c.CallerNumber, f.Search) && !strings.Contains(c.CallerDigits, f.Search) {
			continue
		}
		rows = append(rows, cloneRecord(c))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StartedAt.After(rows[j].StartedAt) })

	total := len(rows)
	if f.Offset >= total {
		return []CallRecord{}, total, nil
	}
	rows = rows[f.Offset:]
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, total, nil
}

func (r *MemoryRepo) ListStale(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, c := range r.records {
		if c.Status == status && c.CreatedAt.Before(createdBefore) {
			out = append(out, cloneRecord(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRecord(c CallRecord) CallRecord {
	if c.EndedAt != nil {
		t := *c.EndedAt
		c.EndedAt = &t
	}
	if c.Analysis != nil {
		a := *c.Analysis
		c.Analysis = &a
	}
	return c
}
