package callbacks

import "time"

const dayLayout = "2006-01-02"

// Day is one clinic calendar day as the half-open interval [Start, End).
//
// The clinic works on a fixed UTC offset, so day boundaries never depend on
// the server's local zone.
type Day struct {
	Start time.Time
	End   time.Time
}

func zone(offset time.Duration) *time.Location {
	return time.FixedZone("clinic", int(offset/time.Second))
}

// DayOf returns the clinic day containing t.
func DayOf(t time.Time, offset time.Duration) Day {
	local := t.In(zone(offset))
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return Day{Start: start.UTC(), End: start.AddDate(0, 0, 1).UTC()}
}

// ParseDay parses YYYY-MM-DD as a clinic day.
func ParseDay(s string, offset time.Duration) (Day, error) {
	d, err := time.ParseInLocation(dayLayout, s, zone(offset))
	if err != nil {
		return Day{}, err
	}
	return Day{Start: d.UTC(), End: d.AddDate(0, 0, 1).UTC()}, nil
}

func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Key renders the day as YYYY-MM-DD in clinic time.
func (d Day) Key(offset time.Duration) string {
	return d.Start.In(zone(offset)).Format(dayLayout)
}
