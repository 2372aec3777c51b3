package audit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestService_AppendRequiresTypeAndTarget(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{CallID: "c1"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeCallSwept}); err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	fixed := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return fixed }

	if err := svc.LogCallbackCompleted(context.Background(), "call1", "cb1", "p1", "inline"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	e := evs[0]
	if e.Type != EventTypeCallbackAutoCompleted || e.CallbackID != "cb1" || e.PatientID != "p1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.ID == "" || !e.CreatedAt.Equal(fixed) {
		t.Fatalf("expected id and clock timestamp, got %+v", e)
	}
	if !strings.Contains(e.Metadata, `"source":"inline"`) {
		t.Fatalf("expected source metadata, got %q", e.Metadata)
	}
}

func TestService_LogCallSwept(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogCallSwept(context.Background(), "call1", "", 11*time.Minute); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	e := repo.Events()[0]
	if e.Type != EventTypeCallSwept || !strings.Contains(e.Metadata, "11m0s") {
		t.Fatalf("unexpected event: %+v", e)
	}
}
