package correlator

import (
	"context"
	"math"

	"clinic-cti/internal/calls"
)

// answer handles start: RINGING -> CONNECTED. startedAt becomes the connect
// time, so the final duration measures talk time, not ring time.
func (e *Engine) answer(ctx context.Context, in input) (Result, error) {
	c, ok, err := e.find(ctx, in, calls.StatusRinging)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return noMatch(), nil
	}

	patientID := c.PatientID
	if patientID == "" {
		patientID = e.resolve(ctx, in.CallerNumber)
	}
	called := displayNumber(in.CalledNumber)

	out, applied, err := e.apply(ctx, c, func(c calls.CallRecord) (calls.Update, bool) {
		if c.Status != calls.StatusRinging {
			return calls.Update{}, false
		}
		return calls.Update{
			From:         []calls.Status{calls.StatusRinging},
			To:           calls.StatusConnected,
			StartedAt:    timePtr(in.at),
			PatientID:    patientID,
			CalledNumber: called,
			At:           in.received,
		}, true
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return unchanged(out), nil
	}
	return updated(out, "Call connected"), nil
}

// hangUp handles end: a ringing call was never answered (MISSED), a connected
// one ends with its talk time.
func (e *Engine) hangUp(ctx context.Context, in input) (Result, error) {
	c, ok, err := e.find(ctx, in, calls.OpenStatuses...)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return noMatch(), nil
	}

	out, applied, err := e.apply(ctx, c, func(c calls.CallRecord) (calls.Update, bool) {
		switch c.Status {
		case calls.StatusRinging:
			return missedUpdate(c, in), true
		case calls.StatusConnected:
			return calls.Update{
				From:     []calls.Status{calls.StatusConnected},
				To:       calls.StatusEnded,
				EndedAt:  timePtr(in.at),
				Duration: intPtr(talkSeconds(c, in)),
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
	return updated(out, "Call ended"), nil
}

// miss handles an explicit missed event: RINGING -> MISSED.
func (e *Engine) miss(ctx context.Context, in input) (Result, error) {
	c, ok, err := e.find(ctx, in, calls.StatusRinging)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return noMatch(), nil
	}

	out, applied, err := e.apply(ctx, c, func(c calls.CallRecord) (calls.Update, bool) {
		if c.Status != calls.StatusRinging {
			return calls.Update{}, false
		}
		return missedUpdate(c, in), true
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return unchanged(out), nil
	}
	e.finish(ctx, out, "")
	return updated(out, "Call missed"), nil
}

func missedUpdate(c calls.CallRecord, in input) calls.Update {
	return calls.Update{
		From:     []calls.Status{c.Status},
		To:       calls.StatusMissed,
		EndedAt:  timePtr(in.at),
		Duration: intPtr(0),
		Analysis: calls.MissedAnalysis(c.Direction),
		At:       in.received,
	}
}

// talkSeconds is end time minus connect time, rounded, never negative.
func talkSeconds(c calls.CallRecord, in input) int {
	d := in.at.Sub(c.StartedAt).Seconds()
	if d <= 0 {
		return 0
	}
	return int(math.Round(d))
}
