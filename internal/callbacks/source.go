package callbacks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"clinic-cti/internal/patients"
)

// Obligation is a callback due today, whichever representation it came from.
type Obligation struct {
	Source      string
	ID          string
	PatientID   string
	Type        Type
	ScheduledAt time.Time
}

// CallbackSource is one representation of "an obligation due today".
// The Matcher walks sources in order and does not branch on representation.
type CallbackSource interface {
	Name() string
	FindDueToday(ctx context.Context, patientID string, day Day) (Obligation, bool, error)
	// Complete satisfies o on behalf of callID. ok=false means another call
	// already satisfied it; the caller should keep looking.
	Complete(ctx context.Context, o Obligation, callID string, at time.Time) (rec Record, ok bool, err error)
}

const (
	SourceRecord = "record"
	SourceInline = "inline"
)

// RecordSource serves discrete pending callback records.
type RecordSource struct {
	store Store
}

func NewRecordSource(store Store) *RecordSource { return &RecordSource{store: store} }

func (s *RecordSource) Name() string { return SourceRecord }

func (s *RecordSource) FindDueToday(ctx context.Context, patientID string, day Day) (Obligation, bool, error) {
	rec, ok, err := s.store.FindPending(ctx, patientID, day)
	if err != nil || !ok {
		return Obligation{}, false, err
	}
	return Obligation{
		Source:      SourceRecord,
		ID:          rec.ID,
		PatientID:   rec.PatientID,
		Type:        rec.Type,
		ScheduledAt: rec.ScheduledAt,
	}, true, nil
}

func (s *RecordSource) Complete(ctx context.Context, o Obligation, callID string, at time.Time) (Record, bool, error) {
	rec, applied, err := s.store.Complete(ctx, o.ID, callID, at)
	if err != nil {
		return Record{}, false, err
	}
	if applied {
		return rec, true, nil
	}
	return rec, rec.Status == StatusCompleted && rec.CallID == callID, nil
}

// InlineSource serves the legacy next-action field on the patient record.
// Completing it materializes a completed Record whose id is derived from
// patient and day, so concurrent or repeated completions converge on one row.
type InlineSource struct {
	store    Store
	patients patients.Directory
	offset   time.Duration
}

func NewInlineSource(store Store, dir patients.Directory, offset time.Duration) *InlineSource {
	return &InlineSource{store: store, patients: dir, offset: offset}
}

func (s *InlineSource) Name() string { return SourceInline }

var inlineNamespace = uuid.MustParse("5c0b8a84-6f4e-4bc1-9d57-3f0f1b2e8c11")

// InlineID is the id an inline obligation materializes under.
func InlineID(patientID string, day Day, offset time.Duration) string {
	return uuid.NewSHA1(inlineNamespace, []byte(patientID+"|"+day.Key(offset))).String()
}

func (s *InlineSource) FindDueToday(ctx context.Context, patientID string, day Day) (Obligation, bool, error) {
	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, patients.ErrNotFound) {
			return Obligation{}, false, nil
		}
		return Obligation{}, false, err
	}
	if p.NextActionDate == nil || !day.Contains(*p.NextActionDate) {
		return Obligation{}, false, nil
	}
	return Obligation{
		Source:      SourceInline,
		ID:          InlineID(patientID, day, s.offset),
		PatientID:   patientID,
		Type:        TypeFromLabel(p.NextActionType),
		ScheduledAt: *p.NextActionDate,
	}, true, nil
}

func (s *InlineSource) Complete(ctx context.Context, o Obligation, callID string, at time.Time) (Record, bool, error) {
	done := at
	rec, inserted, err := s.store.InsertIfAbsent(ctx, Record{
		ID:          o.ID,
		PatientID:   o.PatientID,
		Type:        o.Type,
		ScheduledAt: o.ScheduledAt,
		Status:      StatusCompleted,
		CompletedAt: &done,
		CallID:      callID,
		Origin:      SourceInline,
		Note:        "materialized from patient next action",
		CreatedAt:   at,
		UpdatedAt:   at,
	})
	if err != nil {
		return Record{}, false, err
	}
	if !inserted && rec.ID != o.ID {
		// The call already completed a different obligation.
		return rec, rec.CallID == callID, nil
	}
	// Clear even when the row already existed: a previous attempt may have
	// stopped between the insert and this update.
	if _, err := s.patients.ClearNextAction(ctx, o.PatientID, o.ScheduledAt, at); err != nil && !errors.Is(err, patients.ErrNotFound) {
		return Record{}, false, err
	}
	return rec, inserted || rec.CallID == callID, nil
}
