package callbacks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clinic-cti/internal/audit"
	"clinic-cti/internal/calls"
	"clinic-cti/internal/patients"
)

var now = time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC) // 11:00 clinic time

type fixture struct {
	calls     *calls.MemoryRepo
	callbacks *MemoryRepo
	patients  *patients.MemoryRepo
	audit     *audit.MemoryRepo
	matcher   *Matcher
}

func newFixture() *fixture {
	f := &fixture{
		calls:     calls.NewMemoryRepo(),
		callbacks: NewMemoryRepo(),
		patients:  patients.NewMemoryRepo(),
		audit:     audit.NewMemoryRepo(),
	}
	f.matcher = NewMatcher(f.callbacks, f.calls, audit.NewService(f.audit), kst,
		NewRecordSource(f.callbacks),
		NewInlineSource(f.callbacks, f.patients, kst),
	)
	return f
}

func (f *fixture) endedCall(t *testing.T, id, patientID string, duration int) calls.CallRecord {
	t.Helper()
	ctx := context.Background()
	rec := calls.CallRecord{
		ID:           id,
		Direction:    calls.DirectionOutbound,
		CallerNumber: "010-1234-5678",
		CallerDigits: "01012345678",
		Status:       calls.StatusRinging,
		StartedAt:    now,
		PatientID:    patientID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	q := calls.MatchQuery{Digits: rec.CallerDigits, Direction: rec.Direction, Statuses: calls.OpenStatuses, Since: now.Add(-time.Minute)}
	if _, _, err := f.calls.CreateUnlessOpen(ctx, rec, q); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	out, ok, err := f.calls.Transition(ctx, id, calls.Update{From: calls.OpenStatuses, To: calls.StatusEnded, Duration: &duration, At: now})
	if err != nil || !ok {
		t.Fatalf("end call: ok=%v err=%v", ok, err)
	}
	return out
}

func TestMatcher_CompletesPendingRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.callbacks.Put(Record{ID: "cb1", PatientID: "p1", Type: TypeRecall, ScheduledAt: now.Add(3 * time.Hour), Status: StatusPending, Origin: SourceRecord})
	f.callbacks.Put(Record{ID: "tomorrow", PatientID: "p1", Type: TypeCallback, ScheduledAt: now.Add(24 * time.Hour), Status: StatusPending, Origin: SourceRecord})
	call := f.endedCall(t, "call1", "p1", 45)

	rec, ok, err := f.matcher.Match(ctx, call, now)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if rec.ID != "cb1" || rec.Status != StatusCompleted || rec.CompletedAt == nil || rec.CallID != "call1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	linked, _ := f.calls.Get(ctx, "call1")
	if linked.CallbackID != "cb1" || linked.CallbackType != string(TypeRecall) {
		t.Fatalf("call not linked: %+v", linked)
	}
	if evs := f.audit.ByType(audit.EventTypeCallbackAutoCompleted); len(evs) != 1 {
		t.Fatalf("expected one audit event, got %d", len(evs))
	}
	if other, _ := f.callbacks.Get(ctx, "tomorrow"); other.Status != StatusPending {
		t.Fatalf("callback for another day must stay pending")
	}
}

func TestMatcher_LinkedCallShortCircuits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.callbacks.Put(Record{ID: "cb1", PatientID: "p1", ScheduledAt: now, Status: StatusPending, Origin: SourceRecord})
	call := f.endedCall(t, "call1", "p1", 45)

	if _, ok, _ := f.matcher.Match(ctx, call, now); !ok {
		t.Fatalf("expected first match")
	}
	f.callbacks.Put(Record{ID: "cb2", PatientID: "p1", ScheduledAt: now, Status: StatusPending, Origin: SourceRecord})

	again, _ := f.calls.Get(ctx, "call1")
	if _, ok, err := f.matcher.Match(ctx, again, now); ok || err != nil {
		t.Fatalf("linked call must short-circuit, ok=%v err=%v", ok, err)
	}
	if rec, _ := f.callbacks.Get(ctx, "cb2"); rec.Status != StatusPending {
		t.Fatalf("second obligation must stay pending")
	}
	if n := len(f.callbacks.Completed("p1")); n != 1 {
		t.Fatalf("expected one completed callback, got %d", n)
	}
}

type flakyLinker struct {
	CallLinker
	fail bool
}

func (l *flakyLinker) LinkCallback(ctx context.Context, id, callbackType, callbackID string, at time.Time) (bool, error) {
	if l.fail {
		return false, errors.New("store unavailable")
	}
	return l.CallLinker.LinkCallback(ctx, id, callbackType, callbackID, at)
}

func TestMatcher_ResumesAfterLinkFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.callbacks.Put(Record{ID: "cb1", PatientID: "p1", ScheduledAt: now, Status: StatusPending, Origin: SourceRecord})
	due := now.Add(time.Hour)
	f.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", NextActionDate: &due, NextActionType: "리콜", CreatedAt: now})
	call := f.endedCall(t, "call1", "p1", 45)

	linker := &flakyLinker{CallLinker: f.calls, fail: true}
	m := NewMatcher(f.callbacks, linker, nil, kst, NewRecordSource(f.callbacks), NewInlineSource(f.callbacks, f.patients, kst))

	if _, _, err := m.Match(ctx, call, now); err == nil {
		t.Fatalf("expected link failure")
	}
	linker.fail = false
	rec, ok, err := m.Match(ctx, call, now)
	if err != nil || !ok || rec.ID != "cb1" {
		t.Fatalf("expected resume onto cb1, got %+v ok=%v err=%v", rec, ok, err)
	}
	if n := len(f.callbacks.Completed("p1")); n != 1 {
		t.Fatalf("retry must not complete a second obligation, got %d", n)
	}
	p, _ := f.patients.Get(ctx, "p1")
	if !p.HasNextAction() {
		t.Fatalf("inline obligation must be untouched")
	}
}

func TestMatcher_MaterializesInlineObligation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	due := now.Add(2 * time.Hour)
	f.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", NextActionDate: &due, NextActionType: "감사전화", CreatedAt: now})
	call := f.endedCall(t, "call1", "p1", 30)

	rec, ok, err := f.matcher.Match(ctx, call, now)
	if err != nil || !ok {
		t.Fatalf("expected inline match, ok=%v err=%v", ok, err)
	}
	if rec.Type != TypeThanks || rec.Origin != SourceInline || rec.Status != StatusCompleted {
		t.Fatalf("unexpected materialized record: %+v", rec)
	}
	if rec.ID != InlineID("p1", DayOf(now, kst), kst) {
		t.Fatalf("inline record must use the deterministic id")
	}
	p, _ := f.patients.Get(ctx, "p1")
	if p.HasNextAction() {
		t.Fatalf("inline field must be cleared")
	}
}

func TestMatcher_InlineNotDueToday(t *testing.T) {
	f := newFixture()
	due := now.Add(48 * time.Hour)
	f.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", NextActionDate: &due, CreatedAt: now})
	call := f.endedCall(t, "call1", "p1", 30)

	if _, ok, err := f.matcher.Match(context.Background(), call, now); ok || err != nil {
		t.Fatalf("expected no obligation, ok=%v err=%v", ok, err)
	}
	got, _ := f.calls.Get(context.Background(), "call1")
	if got.Linked() {
		t.Fatalf("call must stay unlinked")
	}
}

func TestMatcher_ConcurrentInlineCompletesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	due := now.Add(time.Hour)
	f.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", NextActionDate: &due, CreatedAt: now})
	call := f.endedCall(t, "call1", "p1", 30)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.matcher.Match(ctx, call, now); err != nil {
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(f.callbacks.Completed("p1")); n != 1 {
		t.Fatalf("expected exactly one completed callback, got %d", n)
	}
	if evs := f.audit.ByType(audit.EventTypeCallbackAutoCompleted); len(evs) != 1 {
		t.Fatalf("expected one audit event, got %d", len(evs))
	}
}

func TestEligible(t *testing.T) {
	base := calls.CallRecord{ID: "c", Direction: calls.DirectionOutbound, Status: calls.StatusEnded, DurationSeconds: 10, PatientID: "p"}
	if !Eligible(base) {
		t.Fatalf("expected eligible")
	}
	cases := map[string]func(c *calls.CallRecord){
		"inbound":      func(c *calls.CallRecord) { c.Direction = calls.DirectionInbound },
		"missed":       func(c *calls.CallRecord) { c.Status = calls.StatusMissed },
		"zero":         func(c *calls.CallRecord) { c.DurationSeconds = 0 },
		"no patient":   func(c *calls.CallRecord) { c.PatientID = "" },
		"already done": func(c *calls.CallRecord) { c.CallbackID = "cb" },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if Eligible(c) {
			t.Fatalf("%s: expected ineligible", name)
		}
	}
}
