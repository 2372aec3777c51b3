package correlator

import (
	"context"
	"fmt"

	"clinic-cti/internal/calls"
	"clinic-cti/pkg/logger"
)

// outboundEnd handles the success report of an outbound call.
//
// The call record transition commits under the per-key lock. Callback
// matching is returned as a followUp and runs after the lock is released; a
// retry that finds the record already ENDED and unlinked resumes matching
// instead of touching the record again.
func (e *Engine) outboundEnd(ctx context.Context, in input) (Result, followUp, error) {
	c, ok, err := e.find(ctx, in, calls.OpenStatuses...)
	if err != nil {
		return Result{}, nil, err
	}
	if !ok || c.Status.IsTerminal() {
		return e.resumeMatch(ctx, in, c, ok)
	}

	duration := 0
	if in.Duration != nil && *in.Duration > 0 {
		duration = *in.Duration
	}
	patientID := c.PatientID
	if patientID == "" {
		patientID = e.resolve(ctx, in.CallerNumber)
	}
	called := displayNumber(in.CalledNumber)

	out, applied, err := e.apply(ctx, c, func(c calls.CallRecord) (calls.Update, bool) {
		if c.Status.IsTerminal() {
			return calls.Update{}, false
		}
		return calls.Update{
			From:         []calls.Status{c.Status},
			To:           calls.StatusEnded,
			EndedAt:      timePtr(in.at),
			Duration:     intPtr(duration),
			PatientID:    patientID,
			CalledNumber: called,
			At:           in.received,
		}, true
	})
	if err != nil {
		return Result{}, nil, err
	}
	if !applied {
		return e.resumeMatch(ctx, in, out, out.ID != "")
	}

	return updated(out, "Call ended"), func(ctx context.Context) (Result, error) {
		res := updated(out, "Call ended")
		cb, err := e.matchCallback(ctx, out, in)
		if err != nil {
			// The record is committed; the bridge retry resumes matching.
			e.finish(ctx, out, "")
			return Result{}, err
		}
		res.AutoCompletedCallbackID = cb
		e.finish(ctx, out, cb)
		return res, nil
	}, nil
}

// resumeMatch handles an outbound_end whose record is already terminal.
// found reports whether c came from a lookup at all.
func (e *Engine) resumeMatch(ctx context.Context, in input, c calls.CallRecord, found bool) (Result, followUp, error) {
	if !found {
		var err error
		c, found, err = e.find(ctx, in, calls.StatusEnded)
		if err != nil {
			return Result{}, nil, err
		}
		if !found {
			return noMatch(), nil, nil
		}
	}
	if c.Direction != calls.DirectionOutbound || c.Status != calls.StatusEnded || c.Linked() || c.DurationSeconds <= 0 || c.PatientID == "" {
		return unchanged(c), nil, nil
	}

	return unchanged(c), func(ctx context.Context) (Result, error) {
		cb, err := e.matchCallback(ctx, c, in)
		if err != nil {
			return Result{}, err
		}
		if cb == "" {
			return unchanged(c), nil
		}
		c.CallbackID = cb
		e.finish(ctx, c, cb)
		res := updated(c, "Callback completed")
		res.AutoCompletedCallbackID = cb
		return res, nil
	}, nil
}

func (e *Engine) matchCallback(ctx context.Context, c calls.CallRecord, in input) (string, error) {
	if e.Callbacks == nil || c.DurationSeconds <= 0 || c.PatientID == "" {
		return "", nil
	}
	rec, ok, err := e.Callbacks.Match(ctx, c, in.received)
	if err != nil {
		return "", fmt.Errorf("match callback for call %s: %w", c.ID, err)
	}
	if !ok {
		logger.From(ctx).Debug("no callback due today", "call_log_id", c.ID, "patient_id", c.PatientID)
		return "", nil
	}
	return rec.ID, nil
}

// outboundFailed handles the failure fan-in. Unreachable callees are MISSED
// (retry needed); cancelled or rejected calls are ENDED with zero duration.
func (e *Engine) outboundFailed(ctx context.Context, in input) (Result, error) {
	c, ok, err := e.find(ctx, in, calls.OpenStatuses...)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return noMatch(), nil
	}

	out, applied, err := e.apply(ctx, c, func(c calls.CallRecord) (calls.Update, bool) {
		if c.Status.IsTerminal() {
			return calls.Update{}, false
		}
		switch {
		case in.Type.unreachable():
			return missedUpdate(c, in), true
		case in.Type.abandoned():
			return calls.Update{
				From:     []calls.Status{c.Status},
				To:       calls.StatusEnded,
				EndedAt:  timePtr(in.at),
				Duration: intPtr(0),
				At:       in.received,
			}, true
		default:
			return calls.Update{}, false
		}
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return unchanged(out), nil
	}
	e.finish(ctx, out, "")
	if out.Status == calls.StatusMissed {
		return updated(out, "Call missed"), nil
	}
	return updated(out, "Call "+string(in.Type)), nil
}
