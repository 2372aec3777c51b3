package telephony

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"clinic-cti/internal/correlator"
)

// CallLogPayload is the bridge's signaling event body. One shape serves both
// directions; eventType selects the meaning.
type CallLogPayload struct {
	EventType    string          `json:"eventType"`
	CallerNumber string          `json:"callerNumber"`
	CalledNumber string          `json:"calledNumber"`
	Timestamp    string          `json:"timestamp"`
	Duration     *FlexInt        `json:"duration"`
	CallLogID    string          `json:"callLogId"`
	ExtInfo      json.RawMessage `json:"extInfo"`
}

// IncomingCallPayload is the ring notification the bridge posts on a new inbound call.
type IncomingCallPayload struct {
	CallerNumber string          `json:"callerNumber"`
	CalledNumber string          `json:"calledNumber"`
	Timestamp    string          `json:"timestamp"`
	ExtInfo      json.RawMessage `json:"extInfo"`
}

// OutgoingCallPayload is posted when staff dial out. PhoneNumber is the dialed
// patient number; CallerNumber is the clinic line.
type OutgoingCallPayload struct {
	PhoneNumber  string `json:"phoneNumber"`
	CallerNumber string `json:"callerNumber"`
	Timestamp    string `json:"timestamp"`
}

// FlexInt accepts 45, 45.0 and "45". Bridges disagree on number encoding.
// Anything unparseable reads as zero rather than failing the whole event.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*f = FlexInt(v)
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp reads an ISO-8601 timestamp. Values without a zone are taken
// as clinic local time. ok=false means absent or unparseable.
func ParseTimestamp(s string, clinic *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, clinic)
		if err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func extInfo(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || !json.Valid(raw) {
		return ""
	}
	return string(raw)
}

func (p CallLogPayload) ToEvent(clinic *time.Location) correlator.Event {
	ev := correlator.Event{
		Type:         correlator.EventType(strings.TrimSpace(p.EventType)),
		CallerNumber: strings.TrimSpace(p.CallerNumber),
		CalledNumber: strings.TrimSpace(p.CalledNumber),
		CallLogID:    strings.TrimSpace(p.CallLogID),
		ExtInfo:      extInfo(p.ExtInfo),
	}
	if t, ok := ParseTimestamp(p.Timestamp, clinic); ok {
		ev.Timestamp = t
	}
	if p.Duration != nil {
		d := int(*p.Duration)
		ev.Duration = &d
	}
	return ev
}

func (p IncomingCallPayload) ToEvent(clinic *time.Location) correlator.Event {
	ev := correlator.Event{
		Type:         correlator.EventRing,
		CallerNumber: strings.TrimSpace(p.CallerNumber),
		CalledNumber: strings.TrimSpace(p.CalledNumber),
		ExtInfo:      extInfo(p.ExtInfo),
	}
	if t, ok := ParseTimestamp(p.Timestamp, clinic); ok {
		ev.Timestamp = t
	}
	return ev
}

func (p OutgoingCallPayload) ToEvent(clinic *time.Location) correlator.Event {
	ev := correlator.Event{
		Type:         correlator.EventOutboundStart,
		CallerNumber: strings.TrimSpace(p.PhoneNumber),
		CalledNumber: strings.TrimSpace(p.CallerNumber),
	}
	if t, ok := ParseTimestamp(p.Timestamp, clinic); ok {
		ev.Timestamp = t
	}
	return ev
}
