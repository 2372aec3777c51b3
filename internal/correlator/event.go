package correlator

import (
	"errors"
	"time"

	"clinic-cti/internal/calls"
)

var ErrInvalidEvent = errors.New("correlator: invalid event")

// EventType is the bridge's signaling event name.
type EventType string

const (
	EventRing   EventType = "ring"
	EventStart  EventType = "start"
	EventEnd    EventType = "end"
	EventMissed EventType = "missed"

	// EventOutboundStart is the first observation of an outbound attempt.
	EventOutboundStart  EventType = "outbound_start"
	EventOutboundEnd    EventType = "outbound_end"
	EventNoAnswer       EventType = "no_answer"
	EventServiceStopped EventType = "service_stopped"
	EventBusy           EventType = "busy"
	EventCancelled      EventType = "cancelled"
	EventRejected       EventType = "rejected"
)

var eventDirections = map[EventType]calls.Direction{
	EventRing:           calls.DirectionInbound,
	EventStart:          calls.DirectionInbound,
	EventEnd:            calls.DirectionInbound,
	EventMissed:         calls.DirectionInbound,
	EventOutboundStart:  calls.DirectionOutbound,
	EventOutboundEnd:    calls.DirectionOutbound,
	EventNoAnswer:       calls.DirectionOutbound,
	EventServiceStopped: calls.DirectionOutbound,
	EventBusy:           calls.DirectionOutbound,
	EventCancelled:      calls.DirectionOutbound,
	EventRejected:       calls.DirectionOutbound,
}

// Direction returns the call direction an event type belongs to.
// ok is false for unsupported types.
func (t EventType) Direction() (calls.Direction, bool) {
	d, ok := eventDirections[t]
	return d, ok
}

// unreachable events mean the callee never picked up: the attempt needs a retry.
func (t EventType) unreachable() bool {
	return t == EventNoAnswer || t == EventServiceStopped || t == EventBusy
}

// abandoned events mean the call was dropped on purpose: ended, zero duration.
func (t EventType) abandoned() bool {
	return t == EventCancelled || t == EventRejected
}

// Event is one decoded signaling event.
type Event struct {
	Type EventType

	// CallerNumber is the remote party: the caller for inbound events,
	// the dialed number for outbound ones.
	CallerNumber string
	CalledNumber string

	// Timestamp is when the bridge observed the event. Zero means unknown,
	// in which case receipt time is used.
	Timestamp time.Time

	// Duration is the bridge-reported talk time in seconds (outbound only).
	Duration *int

	// CallLogID, when set, addresses a record directly.
	CallLogID string

	// ExtInfo is an opaque JSON passthrough stored on creation.
	ExtInfo string
}

type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeNoMatch     Outcome = "no_match"
	OutcomeUnsupported Outcome = "unsupported"
)

// Result describes what one event did. Only OutcomeCreated and
// OutcomeUpdated changed stored state.
type Result struct {
	Outcome   Outcome
	Message   string
	CallLogID string
	Status    calls.Status
	PatientID string

	AutoCompletedCallbackID string
}
