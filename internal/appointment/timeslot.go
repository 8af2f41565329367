package appointment

import (
	"strings"
	"time"
)

const (
	DayLayout   = "2006-01-02"
	clockLayout = "15:04"
)

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Label is the ledger key for the range, e.g. "09:00-09:30".
func (r TimeRange) Label() string {
	return r.Start.Format(clockLayout) + "-" + r.End.Format(clockLayout)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// DayOf returns the clinic-local calendar day of t.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// ParseDay returns local midnight of a YYYY-MM-DD day.
func ParseDay(raw string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DayLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, validationErr("date %q must be YYYY-MM-DD", raw)
	}
	return d, nil
}

// AddDays moves a YYYY-MM-DD day by n calendar days.
func AddDays(day string, n int, loc *time.Location) (string, error) {
	d, err := ParseDay(day, loc)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, n).Format(DayLayout), nil
}

// ParseSlotLabel turns an "HH:MM-HH:MM" label back into a range on day.
func ParseSlotLabel(day time.Time, label string) (TimeRange, error) {
	r, ok := parseInterval(day, label, "-")
	if !ok {
		return TimeRange{}, validationErr("time slot %q must be HH:MM-HH:MM", label)
	}
	return r, nil
}

// Labels accepted for working hours, in 24h and 12h form.
var hourLayouts = []string{"15:04", "3:04 PM", "3:04PM", "03:04 PM"}

// ParseWorkingHours parses a directory working-hours value such as
// "09:00 - 17:00" or "9:00 AM - 5:00 PM" onto day. Anything it cannot
// read, including "Not Available" and zero-length ranges, returns ok=false.
func ParseWorkingHours(day time.Time, raw string) (TimeRange, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "not available") {
		return TimeRange{}, false
	}
	return parseInterval(day, raw, "-")
}

func parseInterval(day time.Time, raw, sep string) (TimeRange, bool) {
	parts := strings.Split(raw, sep)
	if len(parts) != 2 {
		return TimeRange{}, false
	}
	start, ok := parseClock(day, parts[0])
	if !ok {
		return TimeRange{}, false
	}
	end, ok := parseClock(day, parts[1])
	if !ok {
		return TimeRange{}, false
	}
	if !end.After(start) {
		return TimeRange{}, false
	}
	return TimeRange{Start: start, End: end}, true
}

func parseClock(day time.Time, raw string) (time.Time, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for _, layout := range hourLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), true
	}
	return time.Time{}, false
}

// Partition cuts window into consecutive chunks of length d, dropping a
// trailing chunk that would run past the window end.
func Partition(window TimeRange, d time.Duration) []TimeRange {
	if d <= 0 {
		return nil
	}
	var out []TimeRange
	for start := window.Start; !start.Add(d).After(window.End); start = start.Add(d) {
		out = append(out, TimeRange{Start: start, End: start.Add(d)})
	}
	return out
}
