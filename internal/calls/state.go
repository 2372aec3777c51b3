package calls

// Status is the lifecycle state of a call record.
//
//	ringing -> connected -> ended
//	ringing -> missed
//	ringing -> ended      (outbound cancelled/rejected, or a success report without a connect event)
//
// ended and missed are terminal.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
	StatusMissed    Status = "missed"
)

// OpenStatuses are the states a follow-up event may still correlate with.
var OpenStatuses = []Status{StatusRinging, StatusConnected}

var validTransitions = map[Status][]Status{
	StatusRinging:   {StatusConnected, StatusMissed, StatusEnded},
	StatusConnected: {StatusEnded, StatusMissed},
	StatusEnded:     {},
	StatusMissed:    {},
}

// CanTransitionTo checks if moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, st := range validTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for ended and missed.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusMissed
}

func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// sourcesFor returns the subset of from that may legally move to next.
func sourcesFor(from []Status, next Status) []Status {
	out := make([]Status, 0, len(from))
	for _, s := range from {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
