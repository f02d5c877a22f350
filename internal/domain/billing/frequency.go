// internal/domain/billing/frequency.go
package billing

import (
	"fmt"
	"time"
)

// Frequency is how often a project's cost recurs.
type Frequency string

const (
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

// step is the length of one billing period.
type step struct {
	days   int
	months int
}

var frequencySteps = map[Frequency]step{
	FrequencyDaily:     {days: 1},
	FrequencyWeekly:    {days: 7},
	FrequencyMonthly:   {months: 1},
	FrequencyQuarterly: {months: 3},
	FrequencyYearly:    {months: 12},
}

// ErrUnknownFrequency is returned for a frequency outside the known set.
var ErrUnknownFrequency = fmt.Errorf("unknown billing frequency")

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	_, ok := frequencySteps[f]
	return ok
}

// DueDate returns the n-th due date after anchor (n=1 is one period after the anchor).
// Every date is computed from the anchor, so month-end anchors do not drift:
// a monthly project anchored on Jan 31 is due on Feb 28/29, Mar 31, Apr 30.
func (f Frequency) DueDate(anchor time.Time, n int) (time.Time, error) {
	s, ok := frequencySteps[f]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, f)
	}
	if s.months == 0 {
		return anchor.AddDate(0, 0, s.days*n), nil
	}
	return AddMonths(anchor, s.months*n), nil
}

// AddMonths moves t by whole months, clamping the day to the end of a shorter month.
func AddMonths(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1)
}

// DateOnly truncates t to midnight in loc.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DaysBetween counts calendar days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
