package sweep

import (
	"context"
	"fmt"
	"time"

	"clinic-cti/internal/calls"
	"clinic-cti/pkg/logger"
)

// Store is the part of the call record store the sweep needs.
type Store interface {
	ListStale(ctx context.Context, status calls.Status, createdBefore time.Time, limit int) ([]calls.CallRecord, error)
	Transition(ctx context.Context, id string, u calls.Update) (calls.CallRecord, bool, error)
}

type Notifier interface {
	CallEnded(ctx context.Context, c calls.CallRecord, callbackID string)
}

type Auditor interface {
	LogCallSwept(ctx context.Context, callID, patientID string, age time.Duration) error
}

// Locker serializes the sweep with live events for the same phone+direction.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Sweeper closes ringing records whose terminal event never arrived.
// A record is stale once it is older than twice the correlation window:
// by then no follow-up event can match it anyway.
type Sweeper struct {
	Calls    Store
	Notifier Notifier
	Audit    Auditor
	Locker   Locker

	Window time.Duration
	Batch  int
	Now    func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	log := logger.From(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("sweep started", "interval", interval.String(), "window", s.Window.String())
	for {
		select {
		case <-ctx.Done():
			log.Info("sweep stopped")
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				log.Error("sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("sweep closed stale calls", "count", n)
			}
		}
	}
}

// SweepOnce processes one batch and returns how many records it closed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.Window <= 0 {
		return 0, fmt.Errorf("sweep: window must be positive")
	}
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	now := s.now()

	stale, err := s.Calls.ListStale(ctx, calls.StatusRinging, now.Add(-2*s.Window), batch)
	if err != nil {
		return 0, fmt.Errorf("sweep: list stale: %w", err)
	}

	closed := 0
	for _, c := range stale {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		ok, err := s.close(ctx, c, now)
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func (s *Sweeper) close(ctx context.Context, c calls.CallRecord, now time.Time) (bool, error) {
	if s.Locker != nil {
		unlock, err := s.Locker.Lock(ctx, c.CallerDigits+"|"+string(c.Direction))
		if err != nil {
			return false, fmt.Errorf("sweep: lock %s: %w", c.ID, err)
		}
		defer unlock()
	}

	out, applied, err := s.Calls.Transition(ctx, c.ID, calls.Update{
		From:     []calls.Status{calls.StatusRinging},
		To:       calls.StatusMissed,
		EndedAt:  &now,
		Duration: new(int),
		Analysis: calls.MissedAnalysis(c.Direction),
		At:       now,
	})
	if err != nil {
		return false, fmt.Errorf("sweep: close %s: %w", c.ID, err)
	}
	if !applied {
		// a live event got there first
		return false, nil
	}

	log := logger.From(ctx).With("call_log_id", out.ID, "direction", string(out.Direction))
	log.Info("stale ringing call marked missed", "age", now.Sub(c.CreatedAt).String())

	if s.Notifier != nil {
		s.Notifier.CallEnded(ctx, out, "")
	}
	if s.Audit != nil {
		if err := s.Audit.LogCallSwept(ctx, out.ID, out.PatientID, now.Sub(c.CreatedAt)); err != nil {
			log.Warn("sweep audit failed", "err", err)
		}
	}
	return true, nil
}
