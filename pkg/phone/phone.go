package phone

import "strings"

// Normalize strips everything that is not an ASCII digit.
// Empty or fully non-numeric input yields "".
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Format returns the canonical display form used by the record stores.
//
//   - 11 digits: 3-4-4 (010-1234-5678)
//   - 10 digits: 3-3-4 (031-567-2278)
//   - anything else: raw input unchanged (short codes, extensions, foreign numbers)
func Format(raw string) string {
	d := Normalize(raw)
	switch len(d) {
	case 11:
		return d[:3] + "-" + d[3:7] + "-" + d[7:]
	case 10:
		return d[:3] + "-" + d[3:6] + "-" + d[6:]
	default:
		return raw
	}
}

// Variants returns the distinct representations a stored number may have been
// written in: trimmed raw input, digits only, and display form.
// Upstream events do not agree on one format, so lookups fan out over all three.
func Variants(raw string) []string {
	raw = strings.TrimSpace(raw)
	out := make([]string, 0, 3)
	seen := make(map[string]struct{}, 3)
	for _, v := range []string{Format(raw), Normalize(raw), raw} {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Suffix returns the last n normalized digits.
// ok is false when the number has fewer than n digits.
func Suffix(raw string, n int) (string, bool) {
	d := Normalize(raw)
	if n <= 0 || len(d) < n {
		return "", false
	}
	return d[len(d)-n:], true
}
