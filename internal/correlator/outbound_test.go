package correlator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clinic-cti/internal/callbacks"
	"clinic-cti/internal/calls"
	"clinic-cti/internal/patients"
)

func intp(v int) *int { return &v }

func TestOutbound_CompletesPendingCallback(t *testing.T) {
	h := newHarness()
	h.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", CreatedAt: t0})
	h.callbacks.Put(callbacks.Record{ID: "cb1", PatientID: "p1", Type: callbacks.TypeCallback, ScheduledAt: t0.Add(time.Hour), Status: callbacks.StatusPending, Origin: callbacks.SourceRecord})

	start := h.send(t, t0, Event{Type: EventOutboundStart, CallerNumber: "01012345678", CalledNumber: "0215551234"})
	if start.Outcome != OutcomeCreated || start.PatientID != "p1" {
		t.Fatalf("unexpected start: %+v", start)
	}

	res := h.send(t, t0.Add(50*time.Second), Event{Type: EventOutboundEnd, CallerNumber: "010-1234-5678", Duration: intp(45)})
	if res.AutoCompletedCallbackID != "cb1" {
		t.Fatalf("expected callback completion, got %+v", res)
	}
	c := h.get(t, start.CallLogID)
	if c.Status != calls.StatusEnded || c.DurationSeconds != 45 || c.CallbackID != "cb1" {
		t.Fatalf("unexpected call: %+v", c)
	}
	cb, _ := h.callbacks.Get(context.Background(), "cb1")
	if cb.Status != callbacks.StatusCompleted || cb.CompletedAt == nil {
		t.Fatalf("unexpected callback: %+v", cb)
	}
	ended := h.endedEvents(t)
	if len(ended) != 1 || ended[0].AutoCompletedCallbackID != "cb1" {
		t.Fatalf("notification must carry the completed callback: %+v", ended)
	}

	// Duplicate delivery, addressed by id.
	dup := h.send(t, t0.Add(55*time.Second), Event{Type: EventOutboundEnd, CallerNumber: "010-1234-5678", Duration: intp(45), CallLogID: start.CallLogID})
	if dup.Outcome != OutcomeUnchanged || dup.AutoCompletedCallbackID != "" {
		t.Fatalf("duplicate must be a no-op, got %+v", dup)
	}
	if n := len(h.callbacks.Completed("p1")); n != 1 {
		t.Fatalf("expected one completed callback, got %d", n)
	}
}

func TestOutbound_RecordsPatientContact(t *testing.T) {
	h := newHarness()
	h.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", CallCount: 4, CreatedAt: t0})
	h.send(t, t0, Event{Type: EventOutboundStart, CallerNumber: "01012345678"})

	p, _ := h.patients.Get(context.Background(), "p1")
	if p.CallCount != 5 || p.LastCallDirection != "outbound" || p.LastContactAt == nil || !p.LastContactAt.Equal(t0) {
		t.Fatalf("contact not recorded: %+v", p)
	}
}

type countingMatcher struct {
	mu    sync.Mutex
	calls int
	err   error
	next  CallbackMatcher
}

func (m *countingMatcher) Match(ctx context.Context, c calls.CallRecord, at time.Time) (callbacks.Record, bool, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return callbacks.Record{}, false, err
	}
	return m.next.Match(ctx, c, at)
}

type countingLocker struct {
	inner Locker
	held  atomic.Int32
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := l.inner.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	l.held.Add(1)
	return func() {
		l.held.Add(-1)
		unlock()
	}, nil
}

type lockCheckingMatcher struct {
	locker    *countingLocker
	underLock atomic.Int32
	next      CallbackMatcher
}

func (m *lockCheckingMatcher) Match(ctx context.Context, c calls.CallRecord, at time.Time) (callbacks.Record, bool, error) {
	if m.locker.held.Load() > 0 {
		m.underLock.Add(1)
	}
	return m.next.Match(ctx, c, at)
}

func TestOutbound_MatchingRunsAfterLockRelease(t *testing.T) {
	h := newHarness()
	h.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", CreatedAt: t0})
	h.callbacks.Put(callbacks.Record{ID: "cb1", PatientID: "p1", ScheduledAt: t0, Status: callbacks.StatusPending, Origin: callbacks.SourceRecord})
	locker := &countingLocker{inner: NewKeyedMutex()}
	m := &lockCheckingMatcher{locker: locker, next: h.engine.Callbacks}
	h.engine.Locker = locker
	h.engine.Callbacks = m

	start := h.send(t, t0, Event{Type: EventOutboundStart, CallerNumber: "01012345678"})
	res := h.send(t, t0.Add(40*time.Second), Event{Type: EventOutboundEnd, CallerNumber: "01012345678", Duration: intp(35)})
	if res.AutoCompletedCallbackID != "cb1" || res.CallLogID != start.CallLogID {
		t.Fatalf("expected completion, got %+v", res)
	}
	if n := m.underLock.Load(); n != 0 {
		t.Fatalf("callback matching ran under the per-key lock %d times", n)
	}
	if n := locker.held.Load(); n != 0 {
		t.Fatalf("lock still held after Handle: %d", n)
	}
	if ended := h.endedEvents(t); len(ended) != 1 || ended[0].AutoCompletedCallbackID != "cb1" {
		t.Fatalf("unexpected notifications: %+v", ended)
	}
}

func TestOutbound_FailureFanIn(t *testing.T) {
	cases := []struct {
		typ      EventType
		status   calls.Status
		followUp string
	}{
		{EventNoAnswer, calls.StatusMissed, calls.FollowUpRetry},
		{EventBusy, calls.StatusMissed, calls.FollowUpRetry},
		{EventServiceStopped, calls.StatusMissed, calls.FollowUpRetry},
		{EventCancelled, calls.StatusEnded, ""},
		{EventRejected, calls.StatusEnded, ""},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			h := newHarness()
			h.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", CreatedAt: t0})
			h.callbacks.Put(callbacks.Record{ID: "cb1", PatientID: "p1", ScheduledAt: t0, Status: callbacks.StatusPending, Origin: callbacks.SourceRecord})
			m := &countingMatcher{next: h.engine.Callbacks}
			h.engine.Callbacks = m

			start := h.send(t, t0, Event{Type: EventOutboundStart, CallerNumber: "01012345678"})
			h.send(t, t0.Add(20*time.Second), Event{Type: tc.typ, CallerNumber: "01012345678"})

			c := h.get(t, start.CallLogID)
			if c.Status != tc.status || c.DurationSeconds != 0 || c.EndedAt == nil {
				t.Fatalf("unexpected record: %+v", c)
			}
			if tc.followUp != "" && (c.Analysis == nil || c.Analysis.FollowUp != tc.followUp) {
				t.Fatalf("expected retry follow-up, got %+v", c.Analysis)
			}
			if tc.followUp == "" && c.Analysis != nil {
				t.Fatalf("abandoned calls carry no missed classification: %+v", c.Analysis)
			}
			if m.calls != 0 {
				t.Fatalf("callback matching must not run for failed attempts")
			}
			if cb, _ := h.callbacks.Get(context.Background(), "cb1"); cb.Status != callbacks.StatusPending {
				t.Fatalf("callback must stay pending")
			}
		})
	}
}

func TestOutbound_ZeroDurationSkipsMatching(t *testing.T) {
	h := newHarness()
	h.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", CreatedAt: t0})
	m := &countingMatcher{next: h.engine.Callbacks}
	h.engine.Callbacks = m

	start := h.send(t, t0, Event{Type: EventOutboundStart, CallerNumber: "01012345678"})
	h.send(t, t0.Add(5*time.Second), Event{Type: EventOutboundEnd, CallerNumber: "01012345678"})
	if c := h.get(t, start.CallLogID); c.Status != calls.StatusEnded || c.DurationSeconds != 0 {
		t.Fatalf("unexpected record: %+v", c)
	}
	if m.calls != 0 {
		t.Fatalf("matching requires a positive duration")
	}
}

func TestOutbound_RetryResumesCallbackMatching(t *testing.T) {
	h := newHarness()
	due := t0.Add(3 * time.Hour)
	h.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", NextActionDate: &due, NextActionType: "리콜", CreatedAt: t0})
	m := &countingMatcher{next: h.engine.Callbacks, err: errors.New("callbacks store down")}
	h.engine.Callbacks = m

	start := h.send(t, t0, Event{Type: EventOutboundStart, CallerNumber: "01012345678"})
	h.clock.Set(t0.Add(time.Minute))
	_, err := h.engine.Handle(context.Background(), Event{Type: EventOutboundEnd, CallerNumber: "01012345678", Duration: intp(30)})
	if err == nil {
		t.Fatalf("expected matcher failure to surface")
	}
	if c := h.get(t, start.CallLogID); c.Status != calls.StatusEnded || c.Linked() {
		t.Fatalf("call must be committed and unlinked: %+v", c)
	}

	m.err = nil
	res := h.send(t, t0.Add(70*time.Second), Event{Type: EventOutboundEnd, CallerNumber: "01012345678", Duration: intp(30)})
	if res.AutoCompletedCallbackID == "" || res.Outcome != OutcomeUpdated {
		t.Fatalf("retry must resume matching, got %+v", res)
	}
	c := h.get(t, start.CallLogID)
	if c.DurationSeconds != 30 || c.CallbackID != res.AutoCompletedCallbackID || c.CallbackType != string(callbacks.TypeRecall) {
		t.Fatalf("unexpected call after resume: %+v", c)
	}
	p, _ := h.patients.Get(context.Background(), "p1")
	if p.HasNextAction() {
		t.Fatalf("inline obligation must be cleared")
	}

	// Third delivery: linked, nothing left to do.
	again := h.send(t, t0.Add(80*time.Second), Event{Type: EventOutboundEnd, CallerNumber: "01012345678", Duration: intp(30)})
	if again.Outcome != OutcomeUnchanged {
		t.Fatalf("linked call must short-circuit, got %+v", again)
	}
	if n := len(h.callbacks.Completed("p1")); n != 1 {
		t.Fatalf("expected one completed callback, got %d", n)
	}
}

func TestOutbound_ConcurrentDuplicateEndsCompleteOnce(t *testing.T) {
	h := newHarness()
	h.patients.Put(patients.Patient{ID: "p1", Phone: "010-1234-5678", CreatedAt: t0})
	h.callbacks.Put(callbacks.Record{ID: "cb1", PatientID: "p1", ScheduledAt: t0, Status: callbacks.StatusPending, Origin: callbacks.SourceRecord})
	h.callbacks.Put(callbacks.Record{ID: "cb2", PatientID: "p1", ScheduledAt: t0.Add(time.Hour), Status: callbacks.StatusPending, Origin: callbacks.SourceRecord})
	h.send(t, t0, Event{Type: EventOutboundStart, CallerNumber: "01012345678"})
	h.clock.Set(t0.Add(time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Handle(context.Background(), Event{Type: EventOutboundEnd, CallerNumber: "01012345678", Duration: intp(40)}); err != nil {
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(h.callbacks.Completed("p1")); n != 1 {
		t.Fatalf("expected exactly one completion, got %d", n)
	}
	if cb, _ := h.callbacks.Get(context.Background(), "cb2"); cb.Status != callbacks.StatusPending {
		t.Fatalf("second obligation must stay pending")
	}
}
