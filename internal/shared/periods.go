package shared

import (
	"fmt"
	"time"
)

// Bounds for accepted calendar and academic years.
const (
	MinYear = 2000
	MaxYear = 2100
)

// ErrInvalidPeriod indicates a month/year outside the accepted range.
var ErrInvalidPeriod = fmt.Errorf("%w: period month must be 1..12 and year %d..%d", ErrValidation, MinYear, MaxYear)

// ValidatePeriod checks a billing period.
func ValidatePeriod(month, year int) error {
	if month < 1 || month > 12 || year < MinYear || year > MaxYear {
		return ErrInvalidPeriod
	}
	return nil
}

// AcademicYearFor returns the calendar year in which the academic year
// containing the period started.
func AcademicYearFor(month, year, startMonth int) int {
	if startMonth < 1 || startMonth > 12 {
		startMonth = 1
	}
	if month >= startMonth {
		return year
	}
	return year - 1
}

// DueDateFor returns day `day` of the period month, clamped to the month's last day.
func DueDateFor(month, year, day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, loc).Day()
	if day < 1 {
		day = 1
	}
	if day > last {
		day = last
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
