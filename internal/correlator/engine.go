package correlator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"clinic-cti/internal/callbacks"
	"clinic-cti/internal/calls"
	"clinic-cti/pkg/logger"
	"clinic-cti/pkg/phone"
)

// DefaultWindow is how far back a follow-up event looks for its call.
const DefaultWindow = 5 * time.Minute

type IdentityResolver interface {
	Resolve(ctx context.Context, raw string) (patientID string, ok bool, err error)
}

type ContactRecorder interface {
	RecordContact(ctx context.Context, id, direction string, at time.Time) error
}

type CallbackMatcher interface {
	Match(ctx context.Context, call calls.CallRecord, at time.Time) (callbacks.Record, bool, error)
}

type Notifier interface {
	CallEnded(ctx context.Context, c calls.CallRecord, callbackID string)
	IncomingCall(ctx context.Context, c calls.CallRecord)
	OutgoingCall(ctx context.Context, c calls.CallRecord)
}

// Engine reconstructs call lifecycles from stateless signaling events.
//
// Matching is a ranked heuristic, not a protocol guarantee:
//  1) direct record id, when the event carries one
//  2) most recent record for the same phone and direction, in an accepted
//     status, created within Window of receipt
//  3) otherwise the event is acknowledged as a no-op
//
// Every write is a conditional update on the record's current status.
// Only the Calls store is required; the other collaborators are optional.
type Engine struct {
	Calls     calls.Repository
	Identity  IdentityResolver
	Contacts  ContactRecorder
	Callbacks CallbackMatcher
	Notifier  Notifier
	Locker    Locker

	Window time.Duration
	Now    func() time.Time
	NewID  func() string
	Tracer trace.Tracer
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) window() time.Duration {
	if e.Window > 0 {
		return e.Window
	}
	return DefaultWindow
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer("clinic-cti/internal/correlator")
}

// Handle applies one event. Errors are store faults; the bridge retries
// those, and every path is safe to repeat.
func (e *Engine) Handle(ctx context.Context, ev Event) (res Result, err error) {
	if e.Calls == nil {
		return Result{}, errors.New("correlator: call store not configured")
	}
	if strings.TrimSpace(ev.CallerNumber) == "" {
		return Result{}, ErrInvalidEvent
	}
	dir, ok := ev.Type.Direction()
	if !ok {
		return Result{Outcome: OutcomeUnsupported, Message: "Unsupported: " + string(ev.Type)}, nil
	}

	ctx, span := e.tracer().Start(ctx, "cti.handle_event", trace.WithAttributes(
		attribute.String("cti.event_type", string(ev.Type)),
		attribute.String("cti.direction", string(dir)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("cti.outcome", string(res.Outcome)),
				attribute.String("cti.call_log_id", res.CallLogID),
			)
		}
		span.End()
	}()

	received := e.now()
	in := input{
		Event:    ev,
		dir:      dir,
		digits:   phone.Normalize(ev.CallerNumber),
		display:  displayNumber(ev.CallerNumber),
		received: received,
		at:       received,
	}
	if !ev.Timestamp.IsZero() {
		in.at = ev.Timestamp.UTC()
	}

	var next followUp
	res, next, err = e.locked(ctx, in)
	if err == nil && next != nil {
		res, err = next(ctx)
	}
	if err != nil {
		return Result{}, err
	}

	logger.From(ctx).Info("cti event",
		"event_type", string(ev.Type),
		"direction", string(dir),
		"phone", in.display,
		"call_log_id", res.CallLogID,
		"outcome", string(res.Outcome),
	)
	return res, nil
}

// followUp is work that writes to stores other than Calls. It runs after
// the per-key lock is released.
type followUp func(ctx context.Context) (Result, error)

// locked applies the call record transition under the per-key lock.
func (e *Engine) locked(ctx context.Context, in input) (Result, followUp, error) {
	if e.Locker != nil {
		unlock, err := e.Locker.Lock(ctx, in.key())
		if err != nil {
			return Result{}, nil, fmt.Errorf("lock %s: %w", in.key(), err)
		}
		defer unlock()
	}

	var (
		res Result
		err error
	)
	switch in.Type {
	case EventRing, EventOutboundStart:
		res, err = e.create(ctx, in)
	case EventStart:
		res, err = e.answer(ctx, in)
	case EventEnd:
		res, err = e.hangUp(ctx, in)
	case EventMissed:
		res, err = e.miss(ctx, in)
	case EventOutboundEnd:
		return e.outboundEnd(ctx, in)
	default:
		res, err = e.outboundFailed(ctx, in)
	}
	return res, nil, err
}

// input is an event plus everything derived from it at receipt.
type input struct {
	Event
	dir      calls.Direction
	digits   string
	display  string
	received time.Time
	at       time.Time
}

func (in input) key() string {
	k := in.digits
	if k == "" {
		k = strings.TrimSpace(in.CallerNumber)
	}
	return k + "|" + string(in.dir)
}

func (e *Engine) query(in input, statuses ...calls.Status) calls.MatchQuery {
	return calls.MatchQuery{
		Phones:    phone.Variants(in.CallerNumber),
		Digits:    in.digits,
		Direction: in.dir,
		Statuses:  statuses,
		Since:     in.received.Add(-e.window()),
	}
}

// find runs the ranked lookup. A direct id hit is returned whatever its
// status; callers decide whether it can still move. A hit on a record of the
// other direction is ignored, since the per-key lock does not cover it.
func (e *Engine) find(ctx context.Context, in input, statuses ...calls.Status) (calls.CallRecord, bool, error) {
	if in.CallLogID != "" {
		c, err := e.Calls.Get(ctx, in.CallLogID)
		if err == nil && c.Direction == in.dir {
			return c, true, nil
		}
		if err != nil && !errors.Is(err, calls.ErrNotFound) {
			return calls.CallRecord{}, false, fmt.Errorf("get call %s: %w", in.CallLogID, err)
		}
	}
	c, ok, err := e.Calls.FindLatest(ctx, e.query(in, statuses...))
	if err != nil {
		return calls.CallRecord{}, false, fmt.Errorf("find call: %w", err)
	}
	return c, ok, nil
}

// plan builds the update for the record's current state; ok=false means the
// record can no longer move for this event.
type plan func(c calls.CallRecord) (u calls.Update, ok bool)

// apply performs a conditional transition. A lost compare-and-swap re-reads
// the record and plans once more before giving up as a no-op.
func (e *Engine) apply(ctx context.Context, c calls.CallRecord, p plan) (calls.CallRecord, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		u, ok := p(c)
		if !ok {
			return c, false, nil
		}
		out, applied, err := e.Calls.Transition(ctx, c.ID, u)
		if err != nil {
			return calls.CallRecord{}, false, fmt.Errorf("transition call %s: %w", c.ID, err)
		}
		if applied {
			return out, true, nil
		}
		c, err = e.Calls.Get(ctx, c.ID)
		if errors.Is(err, calls.ErrNotFound) {
			return calls.CallRecord{}, false, nil
		}
		if err != nil {
			return calls.CallRecord{}, false, fmt.Errorf("reload call: %w", err)
		}
	}
	return c, false, nil
}

func (e *Engine) resolve(ctx context.Context, raw string) string {
	if e.Identity == nil {
		return ""
	}
	id, ok, err := e.Identity.Resolve(ctx, raw)
	if err != nil {
		// Identity is enrichment only; a later event or the read API can fill it in.
		logger.From(ctx).Warn("patient lookup failed", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

func (e *Engine) create(ctx context.Context, in input) (Result, error) {
	patientID := e.resolve(ctx, in.CallerNumber)
	rec := calls.CallRecord{
		ID:           e.newID(),
		Direction:    in.dir,
		CallerNumber: in.display,
		CallerDigits: in.digits,
		Status:       calls.StatusRinging,
		StartedAt:    in.at,
		PatientID:    patientID,
		ExtInfo:      in.ExtInfo,
		CreatedAt:    in.received,
		UpdatedAt:    in.received,
	}
	rec.CalledNumber = displayNumber(in.CalledNumber)

	out, created, err := e.Calls.CreateUnlessOpen(ctx, rec, e.query(in, calls.OpenStatuses...))
	if err != nil {
		return Result{}, fmt.Errorf("create call: %w", err)
	}
	if !created {
		return Result{
			Outcome:   OutcomeDuplicate,
			Message:   "Call already in progress",
			CallLogID: out.ID,
			Status:    out.Status,
			PatientID: out.PatientID,
		}, nil
	}

	if in.dir == calls.DirectionOutbound {
		if out.PatientID != "" && e.Contacts != nil {
			if err := e.Contacts.RecordContact(ctx, out.PatientID, string(in.dir), in.at); err != nil {
				logger.From(ctx).Warn("record patient contact failed", "patient_id", out.PatientID, "err", err)
			}
		}
		if e.Notifier != nil {
			e.Notifier.OutgoingCall(ctx, out)
		}
	} else if e.Notifier != nil {
		e.Notifier.IncomingCall(ctx, out)
	}

	return Result{
		Outcome:   OutcomeCreated,
		Message:   "Call log created",
		CallLogID: out.ID,
		Status:    out.Status,
		PatientID: out.PatientID,
	}, nil
}

func noMatch() Result {
	return Result{Outcome: OutcomeNoMatch, Message: "No matching call"}
}

func unchanged(c calls.CallRecord) Result {
	return Result{
		Outcome:   OutcomeUnchanged,
		Message:   "Call already " + string(c.Status),
		CallLogID: c.ID,
		Status:    c.Status,
		PatientID: c.PatientID,
	}
}

func updated(c calls.CallRecord, msg string) Result {
	return Result{
		Outcome:   OutcomeUpdated,
		Message:   msg,
		CallLogID: c.ID,
		Status:    c.Status,
		PatientID: c.PatientID,
	}
}

// finish publishes the terminal notification for c.
func (e *Engine) finish(ctx context.Context, c calls.CallRecord, callbackID string) {
	if e.Notifier != nil && c.Status.IsTerminal() {
		e.Notifier.CallEnded(ctx, c, callbackID)
	}
}

// displayNumber formats an optional number; blank input stays blank.
func displayNumber(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return phone.Format(raw)
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
