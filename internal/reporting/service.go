package reporting

import (
	"context"
	"errors"
	"fmt"

	"clinic-cti/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// pageSize bounds one read while walking a day.
const pageSize = 200

// CallLister is the read side of the call record store.
type CallLister interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.CallRecord, int, error)
}

type Service struct {
	calls CallLister
}

func NewService(c CallLister) *Service { return &Service{calls: c} }

// DaySummary counts the records started inside the requested range.
func (s *Service) DaySummary(ctx context.Context, req DaySummaryRequest) (DaySummary, error) {
	if req.From.IsZero() || req.To.IsZero() || !req.To.After(req.From) {
		return DaySummary{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return DaySummary{}, errors.New("reporting: call store not configured")
	}

	out := DaySummary{Date: req.Date}
	answeredInbound := 0
	talkCalls := 0

	f := calls.ListFilter{StartedFrom: req.From, StartedTo: req.To, Limit: pageSize}
	for {
		rows, total, err := s.calls.List(ctx, f)
		if err != nil {
			return DaySummary{}, fmt.Errorf("reporting: list calls: %w", err)
		}
		for _, c := range rows {
			out.TotalCalls++
			if c.Direction == calls.DirectionInbound {
				out.InboundCalls++
			} else {
				out.OutboundCalls++
			}
			if c.PatientID != "" {
				out.KnownPatientCalls++
			}
			if c.Linked() {
				out.CallbacksCompleted++
			}

			switch c.Status {
			case calls.StatusEnded:
				out.EndedCalls++
				if c.Direction == calls.DirectionInbound {
					answeredInbound++
				}
				if c.DurationSeconds > 0 {
					out.TotalTalkSeconds += c.DurationSeconds
					talkCalls++
				}
			case calls.StatusMissed:
				out.MissedCalls++
				if c.Direction == calls.DirectionInbound {
					out.MissedInbound++
				}
			default:
				out.OpenCalls++
			}
		}
		f.Offset += len(rows)
		if len(rows) == 0 || f.Offset >= total {
			break
		}
	}

	if talkCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / talkCalls
	}
	if terminal := answeredInbound + out.MissedInbound; terminal > 0 {
		out.AnswerRate = float64(answeredInbound) / float64(terminal)
	}
	return out, nil
}
