package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit capture is best-effort; do not block call correlation on audit failures.
//
// Storage (Postgres): table audit_events, INSERT-only.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	CallID     string `json:"call_id,omitempty" db:"call_id"`
	CallbackID string `json:"callback_id,omitempty" db:"callback_id"`
	PatientID  string `json:"patient_id,omitempty" db:"patient_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallbackAutoCompleted EventType = "callback_auto_completed"
	EventTypeCallSwept             EventType = "call_swept"
)
