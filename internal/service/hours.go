package service

import "time"

// Business hours are Monday to Friday, 09:00 up to but excluding 17:00,
// in whatever location t carries.
const (
	businessOpenHour  = 9
	businessCloseHour = 17

	// Vendors get this long to act on a paid request during business hours.
	businessThreshold = 2 * time.Hour
	// and this long outside them.
	offHoursThreshold = 12 * time.Hour
)

// IsBusinessHours reports whether t falls on a weekday between 09:00
// (inclusive) and 17:00 (exclusive).
func IsBusinessHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h := t.Hour()
	return h >= businessOpenHour && h < businessCloseHour
}

// TimeoutThreshold is how old a paid pending booking must be at t before
// the sweeper resolves it.
func TimeoutThreshold(t time.Time) time.Duration {
	if IsBusinessHours(t) {
		return businessThreshold
	}
	return offHoursThreshold
}
