package callbacks

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("callbacks: not found")
	ErrInvalidArgument = errors.New("callbacks: invalid argument")
)

type Type string

const (
	TypeCallback Type = "callback"
	TypeRecall   Type = "recall"
	TypeThanks   Type = "thanks"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

// Record is a discrete obligation to contact a patient.
// Status moves pending -> completed or pending -> missed exactly once.
type Record struct {
	ID          string     `json:"id" db:"id"`
	PatientID   string     `json:"patientId" db:"patient_id"`
	Type        Type       `json:"type" db:"type"`
	ScheduledAt time.Time  `json:"scheduledAt" db:"scheduled_at"`
	Status      Status     `json:"status" db:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`

	// CallID is the call that completed the obligation (weak reference).
	CallID string `json:"callId,omitempty" db:"call_id"`
	// Origin is "record" for scheduled callbacks, "inline" for ones
	// materialized from a patient's next-action field.
	Origin string `json:"origin" db:"origin"`
	Note   string `json:"note,omitempty" db:"note"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TypeFromLabel infers the obligation type from a free-form inline action label.
// Korean labels used by the clinic staff are accepted alongside English ones.
func TypeFromLabel(label string) Type {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return TypeCallback
	case strings.Contains(l, "recall") || strings.Contains(l, "리콜"):
		return TypeRecall
	case strings.Contains(l, "thank") || strings.Contains(l, "감사"):
		return TypeThanks
	default:
		return TypeCallback
	}
}
