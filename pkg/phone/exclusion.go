package phone

// ExclusionList is an immutable set of numbers (internal extensions, test
// lines) whose events are dropped before any record is created.
//
// Entries are compared on their normalized form, so "031-567-2278" and
// "0315672278" are the same entry.
type ExclusionList struct {
	set map[string]struct{}
}

// NewExclusionList builds a list from raw numbers. Entries without digits are ignored.
func NewExclusionList(numbers ...string) ExclusionList {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		d := Normalize(n)
		if d == "" {
			continue
		}
		set[d] = struct{}{}
	}
	return ExclusionList{set: set}
}

// Contains reports whether raw normalizes to an excluded number.
func (l ExclusionList) Contains(raw string) bool {
	d := Normalize(raw)
	if d == "" || len(l.set) == 0 {
		return false
	}
	_, ok := l.set[d]
	return ok
}

// Len returns the number of distinct excluded numbers.
func (l ExclusionList) Len() int { return len(l.set) }
