package patients

import (
	"context"
	"strings"
	"sync"
	"time"

	"clinic-cti/pkg/phone"
)

type MemoryRepo struct {
	mu       sync.Mutex
	patients map[string]Patient
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{patients: map[string]Patient{}} }

var _ Directory = (*MemoryRepo)(nil)

// Put inserts or replaces a patient. PhoneDigits is derived from Phone.
func (r *MemoryRepo) Put(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.PhoneDigits = phone.Normalize(p.Phone)
	r.patients[p.ID] = p
}

func (r *MemoryRepo) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.patients, id)
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) FindByPhone(ctx context.Context, number string) (Patient, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oldestLocked(func(p Patient) bool { return p.Phone == number })
}

func (r *MemoryRepo) FindByPhoneSuffix(ctx context.Context, suffix string) (Patient, bool, error) {
	if suffix == "" {
		return Patient{}, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oldestLocked(func(p Patient) bool { return strings.HasSuffix(p.PhoneDigits, suffix) })
}

func (r *MemoryRepo) oldestLocked(match func(Patient) bool) (Patient, bool, error) {
	var best Patient
	found := false
	for _, p := range r.patients {
		if !match(p) {
			continue
		}
		if !found || p.CreatedAt.Before(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID < best.ID) {
			best = p
			found = true
		}
	}
	return best, found, nil
}

func (r *MemoryRepo) ClearNextAction(ctx context.Context, id string, expected time.Time, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.NextActionDate == nil || !p.NextActionDate.Equal(expected) {
		return false, nil
	}
	p.NextActionDate = nil
	p.NextActionType = ""
	p.UpdatedAt = at
	r.patients[id] = p
	return true, nil
}

func (r *MemoryRepo) RecordContact(ctx context.Context, id, direction string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	p.LastContactAt = &t
	p.LastCallDirection = direction
	p.CallCount++
	p.UpdatedAt = at
	r.patients[id] = p
	return nil
}
