package domain

import "time"

// AddMonths moves t forward by n calendar months. When the target month is
// shorter than t's day of month, the result is clamped to the last day of
// that month (Jan 31 + 1 month = Feb 28/29) rather than spilling over.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
