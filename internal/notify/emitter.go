package notify

import (
	"context"
	"encoding/json"
	"time"

	"clinic-cti/internal/calls"
	"clinic-cti/pkg/logger"
)

const (
	EventCallEnded    = "call-ended"
	EventIncomingCall = "incoming-call"
	EventOutgoingCall = "outgoing-call"

	DefaultChannel = "cti-v2"
)

// Envelope is the wire shape on the channel.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// CallEndedData is published on every terminal transition.
type CallEndedData struct {
	CallLogID               string `json:"callLogId"`
	Direction               string `json:"direction"`
	Phone                   string `json:"phone"`
	Duration                int    `json:"duration"`
	Status                  string `json:"status"`
	PatientID               string `json:"patientId,omitempty"`
	AutoCompletedCallbackID string `json:"autoCompletedCallbackId,omitempty"`
	Timestamp               string `json:"timestamp"`
}

// CallStartedData is published when a record is created, for live pop-ups.
type CallStartedData struct {
	CallLogID    string `json:"callLogId"`
	Phone        string `json:"phone"`
	CalledNumber string `json:"calledNumber,omitempty"`
	PatientID    string `json:"patientId,omitempty"`
	IsRegistered bool   `json:"isRegistered"`
	Timestamp    string `json:"timestamp"`
}

// Emitter turns call records into notifications. It never returns errors:
// a failed publish is logged and dropped.
type Emitter struct {
	pub     Publisher
	channel string
	timeout time.Duration
}

func NewEmitter(pub Publisher, channel string, timeout time.Duration) *Emitter {
	if channel == "" {
		channel = DefaultChannel
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Emitter{pub: pub, channel: channel, timeout: timeout}
}

func (e *Emitter) CallEnded(ctx context.Context, c calls.CallRecord, callbackID string) {
	e.emit(ctx, EventCallEnded, c.ID, CallEndedData{
		CallLogID:               c.ID,
		Direction:               string(c.Direction),
		Phone:                   c.CallerNumber,
		Duration:                c.DurationSeconds,
		Status:                  string(c.Status),
		PatientID:               c.PatientID,
		AutoCompletedCallbackID: callbackID,
		Timestamp:               c.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (e *Emitter) IncomingCall(ctx context.Context, c calls.CallRecord) {
	e.emit(ctx, EventIncomingCall, c.ID, started(c))
}

func (e *Emitter) OutgoingCall(ctx context.Context, c calls.CallRecord) {
	e.emit(ctx, EventOutgoingCall, c.ID, started(c))
}

func started(c calls.CallRecord) CallStartedData {
	return CallStartedData{
		CallLogID:    c.ID,
		Phone:        c.CallerNumber,
		CalledNumber: c.CalledNumber,
		PatientID:    c.PatientID,
		IsRegistered: c.PatientID != "",
		Timestamp:    c.StartedAt.UTC().Format(time.RFC3339),
	}
}

func (e *Emitter) emit(ctx context.Context, event, callID string, data any) {
	if e == nil || e.pub == nil {
		return
	}
	log := logger.From(ctx)
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Error("notification encode failed", "event", event, "call_log_id", callID, "err", err)
		return
	}

	// The request may already be finishing; the publish gets its own deadline.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.pub.Publish(pubCtx, e.channel, payload); err != nil {
		log.Warn("notification publish failed", "event", event, "call_log_id", callID, "channel", e.channel, "err", err)
		return
	}
	log.Debug("notification published", "event", event, "call_log_id", callID)
}
