package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" && e.CallbackID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCallbackCompleted records that an outbound call satisfied a callback obligation.
func (s *Service) LogCallbackCompleted(ctx context.Context, callID, callbackID, patientID, source string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeCallbackAutoCompleted,
		CallID:     callID,
		CallbackID: callbackID,
		PatientID:  patientID,
		Message:    "callback completed by outbound call",
		Metadata:   metadata(map[string]string{"source": source}),
	})
}

// LogCallSwept records a stale ringing call closed by the reconciliation sweep.
func (s *Service) LogCallSwept(ctx context.Context, callID, patientID string, age time.Duration) error {
	return s.Append(ctx, Event{
		Type:      EventTypeCallSwept,
		CallID:    callID,
		PatientID: patientID,
		Message:   "stale ringing call marked missed",
		Metadata:  metadata(map[string]string{"age": age.Round(time.Second).String()}),
	})
}

func metadata(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
