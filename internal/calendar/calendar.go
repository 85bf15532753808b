// Package calendar resolves effective reporting deadlines. All comparisons
// are calendar-date comparisons: time of day never participates, and the
// caller supplies one asOf value for an entire batch run so every item sees
// the same "today".
package calendar

import (
	"fmt"
	"time"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

// DateLayout is the ISO date form every stored date uses.
const DateLayout = "2006-01-02"

// Deadline is the effective reporting window for one municipality.
type Deadline struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Overridden bool      `json:"overridden"`
}

// ParseDate parses an ISO calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Truncate drops the time-of-day component, keeping the calendar date.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ResolveDeadline computes the effective window for a period, applying the
// municipality's extension when present. Exactly one end date wins: the
// extension's if it exists, else the official one. Extensions never shift
// the start.
func ResolveDeadline(period domain.FiscalPeriod, ext *domain.Extension) (Deadline, error) {
	start, err := ParseDate(period.StartDate)
	if err != nil {
		return Deadline{}, fmt.Errorf("period start: %w", err)
	}
	end, err := ParseDate(period.EndDate)
	if err != nil {
		return Deadline{}, fmt.Errorf("period end: %w", err)
	}
	d := Deadline{Start: start, End: end}
	if ext != nil {
		newEnd, err := ParseDate(ext.NewEndDate)
		if err != nil {
			return Deadline{}, fmt.Errorf("extension end: %w", err)
		}
		d.End = newEnd
		d.Overridden = true
	}
	return d, nil
}

// IsExpired reports whether the deadline has elapsed as of the given calendar
// date. The deadline day itself still accepts submissions.
func IsExpired(end, asOf time.Time) bool {
	return Truncate(asOf).After(Truncate(end))
}
