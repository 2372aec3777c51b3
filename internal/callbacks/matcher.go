package callbacks

import (
	"context"
	"fmt"
	"time"

	"clinic-cti/internal/calls"
	"clinic-cti/pkg/logger"
)

// CallLinker attaches a completed callback to a call record, once.
type CallLinker interface {
	LinkCallback(ctx context.Context, id, callbackType, callbackID string, at time.Time) (bool, error)
}

type Auditor interface {
	LogCallbackCompleted(ctx context.Context, callID, callbackID, patientID, source string) error
}

// Matcher completes today's callback obligation after a successful outbound call.
//
// It runs after the call record transition has committed and never holds a
// lock across stores. Every step is idempotent, so a retried event resumes
// where a previous attempt stopped.
type Matcher struct {
	store   Store
	sources []CallbackSource
	linker  CallLinker
	audit   Auditor
	offset  time.Duration
}

func NewMatcher(store Store, linker CallLinker, audit Auditor, offset time.Duration, sources ...CallbackSource) *Matcher {
	return &Matcher{store: store, sources: sources, linker: linker, audit: audit, offset: offset}
}

// Eligible reports whether call can satisfy an obligation at all.
func Eligible(call calls.CallRecord) bool {
	return call.Direction == calls.DirectionOutbound &&
		call.Status == calls.StatusEnded &&
		call.DurationSeconds > 0 &&
		call.PatientID != "" &&
		!call.Linked()
}

// Match returns the callback completed by call, if any.
func (m *Matcher) Match(ctx context.Context, call calls.CallRecord, at time.Time) (Record, bool, error) {
	if !Eligible(call) {
		return Record{}, false, nil
	}

	rec, found, err := m.store.FindByCall(ctx, call.ID)
	if err != nil {
		return Record{}, false, fmt.Errorf("find callback by call: %w", err)
	}
	source := rec.Origin
	if !found {
		day := DayOf(at, m.offset)
		rec, source, found, err = m.complete(ctx, call, day, at)
		if err != nil {
			return Record{}, false, err
		}
	}
	if !found {
		return Record{}, false, nil
	}

	linked, err := m.linker.LinkCallback(ctx, call.ID, string(rec.Type), rec.ID, at)
	if err != nil {
		return Record{}, false, fmt.Errorf("link callback: %w", err)
	}
	if !linked {
		// Another delivery of the same event linked it first.
		return rec, true, nil
	}

	if m.audit != nil {
		if err := m.audit.LogCallbackCompleted(ctx, call.ID, rec.ID, call.PatientID, source); err != nil {
			logger.From(ctx).Warn("audit append failed", "call_log_id", call.ID, "callback_id", rec.ID, "err", err)
		}
	}
	logger.From(ctx).Info("callback auto-completed",
		"call_log_id", call.ID,
		"callback_id", rec.ID,
		"callback_type", string(rec.Type),
		"source", source,
	)
	return rec, true, nil
}

func (m *Matcher) complete(ctx context.Context, call calls.CallRecord, day Day, at time.Time) (Record, string, bool, error) {
	for _, src := range m.sources {
		o, ok, err := src.FindDueToday(ctx, call.PatientID, day)
		if err != nil {
			return Record{}, "", false, fmt.Errorf("%s source: %w", src.Name(), err)
		}
		if !ok {
			continue
		}
		rec, ok, err := src.Complete(ctx, o, call.ID, at)
		if err != nil {
			return Record{}, "", false, fmt.Errorf("%s complete: %w", src.Name(), err)
		}
		if ok {
			return rec, src.Name(), true, nil
		}
	}
	return Record{}, "", false, nil
}
