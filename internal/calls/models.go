package calls

import "time"

// CallRecord is one logical phone call as reconstructed from CTI bridge events.
//
// Matching invariant (soft, enforced by query + conditional update, not by a
// unique constraint): at most one record in {ringing, connected} per
// (normalized phone, direction) within the correlation window.
//
// NOTE: CallerNumber holds the remote party as reported by the bridge's
// callerNumber field. For outbound calls that is the dialed patient number;
// CalledNumber is then the clinic line the call went out on.
//
// PatientID, CallbackType and CallbackID are weak references: lookup keys only.
// A PatientID that no longer resolves must be treated as absent by readers.
type CallRecord struct {
	ID        string    `json:"id" db:"id"`
	Direction Direction `json:"direction" db:"direction"`

	// CallerNumber is stored in display form; CallerDigits is its normalized twin
	// used for matching.
	CallerNumber string `json:"callerNumber" db:"caller_number"`
	CallerDigits string `json:"-" db:"caller_digits"`
	CalledNumber string `json:"calledNumber,omitempty" db:"called_number"`

	Status Status `json:"status" db:"status"`

	// StartedAt is the ring time, replaced by the connect time on answer.
	StartedAt time.Time `json:"startedAt" db:"started_at"`
	// EndedAt and DurationSeconds are set only by a terminal transition.
	EndedAt         *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration" db:"duration"`

	PatientID    string `json:"patientId,omitempty" db:"patient_id"`
	CallbackType string `json:"callbackType,omitempty" db:"callback_type"`
	CallbackID   string `json:"callbackId,omitempty" db:"callback_id"`

	// Analysis is the terminal classification payload (set on missed calls so
	// downstream consumers do not need a second pass).
	Analysis *Analysis `json:"analysis,omitempty" db:"analysis"`

	// ExtInfo is the bridge's opaque passthrough, stored as JSON.
	ExtInfo string `json:"extInfo,omitempty" db:"ext_info"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Analysis is the classification attached to a call record.
type Analysis struct {
	Classification string `json:"classification"`
	Summary        string `json:"summary,omitempty"`
	FollowUp       string `json:"followUp,omitempty"`
}

const (
	ClassificationMissed = "missed call"
	FollowUpRetry        = "retry needed"
)

// MissedAnalysis is the payload attached when a call is marked missed.
func MissedAnalysis(d Direction) *Analysis {
	if d == DirectionOutbound {
		return &Analysis{Classification: ClassificationMissed, Summary: "outbound call not answered", FollowUp: FollowUpRetry}
	}
	return &Analysis{Classification: ClassificationMissed, Summary: "inbound call not answered"}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Linked reports whether a callback obligation was already attached to this call.
func (c CallRecord) Linked() bool { return c.CallbackID != "" }
