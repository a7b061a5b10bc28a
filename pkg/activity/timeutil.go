package activity

import "time"

// DaysBetween returns the number of full days between later and earlier,
// truncated toward zero. The result is negative when later is before earlier.
func DaysBetween(later, earlier time.Time) int {
	return int(later.Sub(earlier) / (24 * time.Hour))
}

// HoursBetween returns the number of full hours between later and earlier,
// truncated toward zero.
func HoursBetween(later, earlier time.Time) int {
	return int(later.Sub(earlier) / time.Hour)
}

// TimePtr returns a pointer to a copy of t, or nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
