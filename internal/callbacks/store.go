package callbacks

import (
	"context"
	"time"
)

// Store is the Callback Store contract.
//
// A call completes at most one record. Complete and InsertIfAbsent refuse to
// attach a callID that another record already holds and return that record
// instead, so duplicate deliveries racing each other converge on one row.
type Store interface {
	Get(ctx context.Context, id string) (Record, error)

	// FindPending returns the earliest pending record for patientID scheduled within day.
	FindPending(ctx context.Context, patientID string, day Day) (Record, bool, error)

	// FindByCall returns the record a call already completed, if any.
	FindByCall(ctx context.Context, callID string) (Record, bool, error)

	// Complete moves id from pending to completed. applied=false means the
	// record was no longer pending (out holds its current state) or callID
	// already completed another record (out is that record).
	Complete(ctx context.Context, id, callID string, at time.Time) (out Record, applied bool, err error)

	// InsertIfAbsent stores rec unless a record with the same id exists or
	// rec.CallID is already held, in which case that record is returned with
	// inserted=false.
	InsertIfAbsent(ctx context.Context, rec Record) (out Record, inserted bool, err error)
}
