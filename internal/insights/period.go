package insights

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	monthLayout  = "2006-01"
	weeksInMonth = 4
	daysPerWeek  = 7
)

// Range is a closed time interval; both endpoints are inclusive.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Month identifies a calendar month in a specific location.
type Month struct {
	Year  int
	Month time.Month
	loc   *time.Location
}

// Week is one of the four fixed buckets of a month.
type Week struct {
	Index int
	Range Range
}

// ResolveMonth parses a YYYY-MM selector. Missing or malformed parts fall back to
// the matching component of now, so it never fails.
func ResolveMonth(raw string, now time.Time) Month {
	m := Month{Year: now.Year(), Month: now.Month(), loc: now.Location()}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}
	parts := strings.SplitN(raw, "-", 2)
	if year, err := strconv.Atoi(parts[0]); err == nil && year > 0 && year <= 9999 {
		m.Year = year
	}
	if len(parts) == 2 {
		if month, err := strconv.Atoi(parts[1]); err == nil && month >= 1 && month <= 12 {
			m.Month = time.Month(month)
		}
	}
	return m
}

// String renders the month as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) location() *time.Location {
	if m.loc == nil {
		return time.UTC
	}
	return m.loc
}

// Range returns [day 1 00:00:00, last day 23:59:59.999999999].
func (m Month) Range() Range {
	start := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, m.location())
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return Range{Start: start, End: end}
}

// Previous returns the calendar month before m.
func (m Month) Previous() Month {
	start := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, m.location()).AddDate(0, -1, 0)
	return Month{Year: start.Year(), Month: start.Month(), loc: m.loc}
}

// IsCurrent reports whether m is the calendar month containing now.
func (m Month) IsCurrent(now time.Time) bool {
	now = now.In(m.location())
	return now.Year() == m.Year && now.Month() == m.Month
}

// Before reports whether m ends before the month containing now starts.
func (m Month) Before(now time.Time) bool {
	now = now.In(m.location())
	if m.Year != now.Year() {
		return m.Year < now.Year()
	}
	return m.Month < now.Month()
}

// Weeks splits the month into four contiguous seven-day buckets starting on day 1.
// The last bucket is clamped to the month end; days after the 28th are not covered.
func (m Month) Weeks() [weeksInMonth]Week {
	month := m.Range()
	var weeks [weeksInMonth]Week
	for i := 0; i < weeksInMonth; i++ {
		start := month.Start.AddDate(0, 0, i*daysPerWeek)
		end := start.AddDate(0, 0, daysPerWeek).Add(-time.Nanosecond)
		if i == weeksInMonth-1 && end.After(month.End) {
			end = month.End
		}
		weeks[i] = Week{Index: i + 1, Range: Range{Start: start, End: end}}
	}
	return weeks
}
