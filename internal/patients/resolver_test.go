package patients

import (
	"context"
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)

type failingDirectory struct{ Directory }

func (failingDirectory) FindByPhone(ctx context.Context, number string) (Patient, bool, error) {
	return Patient{}, false, errors.New("db down")
}

func TestResolver_FormatEquivalence(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Patient{ID: "formatted", Phone: "010-1234-5678", CreatedAt: t0})
	repo.Put(Patient{ID: "digits", Phone: "01099998888", CreatedAt: t0})
	r := NewResolver(repo)
	ctx := context.Background()

	cases := map[string]string{
		"01012345678":   "formatted",
		"010-1234-5678": "formatted",
		"010-9999-8888": "digits",
		"01099998888":   "digits",
	}
	for in, want := range cases {
		id, ok, err := r.Resolve(ctx, in)
		if err != nil || !ok || id != want {
			t.Fatalf("Resolve(%q) = %q ok=%v err=%v, want %q", in, id, ok, err, want)
		}
	}
}

func TestResolver_SuffixFallback(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Patient{ID: "p1", Phone: "010-5555-1234", CreatedAt: t0})
	r := NewResolver(repo)
	ctx := context.Background()

	id, ok, err := r.Resolve(ctx, "+82 10-5555-1234")
	if err != nil || !ok || id != "p1" {
		t.Fatalf("expected suffix match, got %q ok=%v err=%v", id, ok, err)
	}

	// Fewer than 8 digits never uses the suffix strategy.
	if _, ok, _ := r.Resolve(ctx, "51234"); ok {
		t.Fatalf("short numbers must not suffix-match")
	}
}

func TestResolver_ExactBeatsSuffix(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Patient{ID: "suffix", Phone: "011-5555-1234", CreatedAt: t0})
	repo.Put(Patient{ID: "exact", Phone: "010-5555-1234", CreatedAt: t0.Add(time.Hour)})
	r := NewResolver(repo)

	id, ok, _ := r.Resolve(context.Background(), "01055551234")
	if !ok || id != "exact" {
		t.Fatalf("expected exact match to win, got %q", id)
	}
}

func TestResolver_NoMatchIsNotAnError(t *testing.T) {
	r := NewResolver(NewMemoryRepo())
	id, ok, err := r.Resolve(context.Background(), "010-0000-0000")
	if err != nil || ok || id != "" {
		t.Fatalf("expected clean miss, got %q ok=%v err=%v", id, ok, err)
	}
	if _, ok, err := r.Resolve(context.Background(), "anonymous"); ok || err != nil {
		t.Fatalf("non-numeric input must miss cleanly")
	}
}

func TestResolver_PropagatesStoreErrors(t *testing.T) {
	r := NewResolver(failingDirectory{Directory: NewMemoryRepo()})
	if _, _, err := r.Resolve(context.Background(), "01012345678"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolver_DanglingPatient(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Patient{ID: "p1", Phone: "010-1234-5678", CreatedAt: t0})
	r := NewResolver(repo)
	ctx := context.Background()

	if _, ok, err := r.Patient(ctx, "p1"); !ok || err != nil {
		t.Fatalf("expected patient, ok=%v err=%v", ok, err)
	}
	repo.Delete("p1")
	if _, ok, err := r.Patient(ctx, "p1"); ok || err != nil {
		t.Fatalf("deleted patient must read as absent, ok=%v err=%v", ok, err)
	}
	if _, ok, err := r.Patient(ctx, ""); ok || err != nil {
		t.Fatalf("empty id must read as absent")
	}
}

func TestMemoryRepo_ClearNextActionIsConditional(t *testing.T) {
	repo := NewMemoryRepo()
	due := t0.Add(2 * time.Hour)
	repo.Put(Patient{ID: "p1", Phone: "010-1234-5678", NextActionDate: &due, NextActionType: "recall", CreatedAt: t0})
	ctx := context.Background()

	if ok, err := repo.ClearNextAction(ctx, "p1", due.Add(time.Minute), t0); err != nil || ok {
		t.Fatalf("stale expectation must not clear, ok=%v err=%v", ok, err)
	}
	if ok, err := repo.ClearNextAction(ctx, "p1", due, t0); err != nil || !ok {
		t.Fatalf("expected clear, ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.ClearNextAction(ctx, "p1", due, t0); ok {
		t.Fatalf("second clear must be a no-op")
	}
	p, _ := repo.Get(ctx, "p1")
	if p.HasNextAction() || p.NextActionType != "" {
		t.Fatalf("inline obligation still present: %+v", p)
	}
}

func TestMemoryRepo_RecordContact(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Patient{ID: "p1", Phone: "010-1234-5678", CallCount: 2, CreatedAt: t0})
	ctx := context.Background()

	if err := repo.RecordContact(ctx, "p1", "outbound", t0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	p, _ := repo.Get(ctx, "p1")
	if p.CallCount != 3 || p.LastCallDirection != "outbound" || p.LastContactAt == nil {
		t.Fatalf("contact not recorded: %+v", p)
	}
	if err := repo.RecordContact(ctx, "zzz", "outbound", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
