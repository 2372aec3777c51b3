package patients

import (
	"context"
	"time"
)

// Directory is the patient lookup contract used by identity resolution and
// the inline callback source.
type Directory interface {
	Get(ctx context.Context, id string) (Patient, error)

	// FindByPhone returns the patient whose stored phone equals number exactly.
	FindByPhone(ctx context.Context, number string) (Patient, bool, error)
	// FindByPhoneSuffix returns the oldest patient whose phone digits end with suffix.
	FindByPhoneSuffix(ctx context.Context, suffix string) (Patient, bool, error)

	// ClearNextAction removes the inline obligation only if it still equals expected.
	// Returns false when another writer already cleared or moved it.
	ClearNextAction(ctx context.Context, id string, expected time.Time, at time.Time) (bool, error)

	// RecordContact stamps the last contact and bumps the call counter.
	RecordContact(ctx context.Context, id, direction string, at time.Time) error
}
