package calendar

import (
	"fmt"
	"time"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

// ErrNotRectifiable marks a rule that does not support corrective
// resubmission. A rule missing or zeroing either offset is rejected, never
// defaulted to an always-open window.
var ErrNotRectifiable = fmt.Errorf("rule does not support rectification")

// RectificationDeadline computes the last day corrective resubmission is
// accepted for a resolved period end. Month arithmetic runs first and clamps
// to the last day of the target month, then days are added:
// 2024-01-31 with {1 month, 10 days} lands on 2024-02-29 and then 2024-03-10.
func RectificationDeadline(rule domain.Rule, end time.Time) (time.Time, error) {
	if !rule.Rectifiable() {
		return time.Time{}, ErrNotRectifiable
	}
	d := AddMonths(Truncate(end), *rule.RectificationMonths)
	return d.AddDate(0, 0, *rule.RectificationDays), nil
}

// IsRectificationOpen reports whether asOf still falls inside the window.
// The deadline day itself is open.
func IsRectificationOpen(deadline, asOf time.Time) bool {
	return !Truncate(asOf).After(Truncate(deadline))
}

// AddMonths adds months keeping the day of month, clamping to the last day
// when the target month is shorter. time.Time.AddDate would normalize Jan 31
// plus one month into March; deadline arithmetic must not skip February.
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	m := int(month) + months
	year += (m - 1) / 12
	m = (m-1)%12 + 1
	if m <= 0 {
		m += 12
		year--
	}
	if last := daysInMonth(year, time.Month(m)); day > last {
		day = last
	}
	return time.Date(year, time.Month(m), day, 0, 0, 0, 0, t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
