package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinic-cti/pkg/phone"
)

// SuffixDigits is how many trailing digits the last-resort lookup compares.
const SuffixDigits = 8

// Resolver maps caller numbers to patient ids.
// No match is a normal outcome and is reported as ok=false, not an error.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver { return &Resolver{dir: dir} }

// Resolve tries, in order: formatted exact, normalized exact, raw exact,
// then the last SuffixDigits digits. First hit wins.
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if phone.Normalize(raw) == "" {
		return "", false, nil
	}
	for _, v := range phone.Variants(raw) {
		p, ok, err := r.dir.FindByPhone(ctx, v)
		if err != nil {
			return "", false, fmt.Errorf("resolve patient: %w", err)
		}
		if ok {
			return p.ID, true, nil
		}
	}

	suffix, ok := phone.Suffix(raw, SuffixDigits)
	if !ok {
		return "", false, nil
	}
	p, ok, err := r.dir.FindByPhoneSuffix(ctx, suffix)
	if err != nil {
		return "", false, fmt.Errorf("resolve patient by suffix: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return p.ID, true, nil
}

// Patient loads a weakly referenced patient.
// A dangling or empty id yields ok=false with no error.
func (r *Resolver) Patient(ctx context.Context, id string) (Patient, bool, error) {
	if id == "" {
		return Patient{}, false, nil
	}
	p, err := r.dir.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Patient{}, false, nil
		}
		return Patient{}, false, err
	}
	return p, true, nil
}
