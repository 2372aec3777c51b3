package callbacks

import (
	"context"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

var _ Store = (*MemoryRepo)(nil)

// Put inserts or replaces a record (seeding for tests and local runs).
func (r *MemoryRepo) Put(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = clone(rec)
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(rec), nil
}

func (r *MemoryRepo) FindPending(ctx context.Context, patientID string, day Day) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best Record
	found := false
	for _, rec := range r.records {
		if rec.PatientID != patientID || rec.Status != StatusPending || !day.Contains(rec.ScheduledAt) {
			continue
		}
		if !found || rec.ScheduledAt.Before(best.ScheduledAt) {
			best = rec
			found = true
		}
	}
	return clone(best), found, nil
}

func (r *MemoryRepo) FindByCall(ctx context.Context, callID string) (Record, bool, error) {
	if callID == "" {
		return Record{}, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.CallID == callID && rec.Status == StatusCompleted {
			return clone(rec), true, nil
		}
	}
	return Record{}, false, nil
}

func (r *MemoryRepo) Complete(ctx context.Context, id, callID string, at time.Time) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false, ErrNotFound
	}
	if rec.Status != StatusPending {
		return clone(rec), false, nil
	}
	if held, ok := r.heldByLocked(callID); ok {
		return clone(held), false, nil
	}
	t := at
	rec.Status = StatusCompleted
	rec.CompletedAt = &t
	rec.CallID = callID
	rec.UpdatedAt = at
	r.records[id] = rec
	return clone(rec), true, nil
}

func (r *MemoryRepo) InsertIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" || rec.PatientID == "" {
		return Record{}, false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[rec.ID]; ok {
		return clone(existing), false, nil
	}
	if held, ok := r.heldByLocked(rec.CallID); ok {
		return clone(held), false, nil
	}
	r.records[rec.ID] = clone(rec)
	return clone(rec), true, nil
}

// heldByLocked returns the record callID already completed.
func (r *MemoryRepo) heldByLocked(callID string) (Record, bool) {
	if callID == "" {
		return Record{}, false
	}
	for _, rec := range r.records {
		if rec.CallID == callID {
			return rec, true
		}
	}
	return Record{}, false
}

// Completed returns all completed records for a patient.
func (r *MemoryRepo) Completed(patientID string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.PatientID == patientID && rec.Status == StatusCompleted {
			out = append(out, clone(rec))
		}
	}
	return out
}

func clone(rec Record) Record {
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}
