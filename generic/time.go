package generic

import (
	"context"
	"time"
)

// =============================================================================
// HOLIDAY CALENDAR - Public holidays that make a day "special"
// =============================================================================

// Holiday is a public holiday.
type Holiday struct {
	ID        string
	Date      time.Time // Only year/month/day are meaningful
	Name      string    // e.g. "Día de la Independencia"
	Recurring bool      // true = same month/day every year
}

// HolidayCalendar provides holiday lookup functionality.
type HolidayCalendar interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

// NoHolidays is a calendar without holidays.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(context.Context, time.Time) (bool, error) { return false, nil }

// =============================================================================
// DAY CLASSIFICATION
// =============================================================================

// DayClass says whether a calendar day is a Sunday and/or a holiday.
type DayClass struct {
	Sunday  bool
	Holiday bool
}

// Special is true for Sundays and holidays.
func (c DayClass) Special() bool { return c.Sunday || c.Holiday }

// Date builds a UTC calendar date and rejects combinations that do not
// exist (e.g. 31 of April).
func Date(year, month, day int) (time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, Invalid("month", "must be between 1 and 12, got %d", month)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, Invalid("day", "%04d-%02d-%02d is not a calendar date", year, month, day)
	}
	return t, nil
}

// ClassifyDay decides Sunday/holiday for a calendar date.
func ClassifyDay(ctx context.Context, cal HolidayCalendar, year, month, day int) (DayClass, error) {
	t, err := Date(year, month, day)
	if err != nil {
		return DayClass{}, err
	}
	class := DayClass{Sunday: t.Weekday() == time.Sunday}
	if cal == nil {
		return class, nil
	}
	holiday, err := cal.IsHoliday(ctx, t)
	if err != nil {
		return DayClass{}, err
	}
	class.Holiday = holiday
	return class, nil
}
