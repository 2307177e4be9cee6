/*
Package calendar provides the date primitives used by the attendance engine.

PURPOSE:
  Payroll figures are counted in calendar dates, not in timestamps. Every
  place that turns a timestamp into "which day does this belong to" goes
  through this package so the rules live in exactly one spot.

KEY CONCEPTS:
  - Date:      A calendar date without time of day (UTC midnight internally)
  - YearMonth: The unit of work for aggregation (one driver, one month)
  - DateRange: An INCLUSIVE [Start, End] range of dates (see range.go)
  - DateSet:   A set of dates, counted once each (see set.go)

WALL CLOCK RULE:
  DateOf(t) takes the date from t's wall clock in t's own location. Callers
  that read naive legacy datetimes must attach the company timezone before
  converting, never after.

SEE ALSO:
  - range.go: CoverageRange, the single inclusive range constructor
  - set.go:   DateSet
*/
package calendar

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE
// =============================================================================

// Date is a calendar date. The zero value is not a valid date.
type Date struct {
	t time.Time
}

// NewDate returns the date y-m-d. Out of range values are normalized the
// same way time.Date normalizes them.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Sub returns the number of days from o to d.
func (d Date) Sub(o Date) int { return int(d.t.Sub(o.t).Hours() / 24) }

// Properties
func (d Date) Year() int              { return d.t.Year() }
func (d Date) Month() time.Month      { return d.t.Month() }
func (d Date) Day() int               { return d.t.Day() }
func (d Date) Weekday() time.Weekday  { return d.t.Weekday() }
func (d Date) IsZero() bool           { return d.t.IsZero() }
func (d Date) YearMonth() YearMonth   { return YearMonth{Year: d.Year(), Month: d.Month()} }
func (d Date) String() string         { return d.t.Format(time.DateOnly) }

// Start returns 00:00 of the date in loc.
func (d Date) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// MarshalText encodes the date as YYYY-MM-DD.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a YYYY-MM-DD date.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// YEAR-MONTH - Unit of work
// =============================================================================

// YearMonth identifies one calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// NewYearMonth normalizes month overflow (month 13 becomes January of the next year).
func NewYearMonth(year int, month time.Month) YearMonth {
	return NewDate(year, month, 1).YearMonth()
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid month %q (use YYYY-MM): %w", s, err)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

func (ym YearMonth) First() Date     { return NewDate(ym.Year, ym.Month, 1) }
func (ym YearMonth) Last() Date      { return NewDate(ym.Year, ym.Month+1, 0) }
func (ym YearMonth) Days() int       { return ym.Last().Day() }
func (ym YearMonth) Next() YearMonth { return NewYearMonth(ym.Year, ym.Month+1) }
func (ym YearMonth) Prev() YearMonth { return NewYearMonth(ym.Year, ym.Month-1) }
func (ym YearMonth) String() string  { return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month)) }

// Range returns the whole month as an inclusive range.
func (ym YearMonth) Range() DateRange { return DateRange{Start: ym.First(), End: ym.Last()} }

// Contains reports whether d falls in the month.
func (ym YearMonth) Contains(d Date) bool {
	return d.Year() == ym.Year && d.Month() == ym.Month
}

// Before reports whether ym is strictly earlier than o.
func (ym YearMonth) Before(o YearMonth) bool { return ym.First().Before(o.First()) }

// Valid reports whether the month is in 1..12 and the year is positive.
func (ym YearMonth) Valid() bool {
	return ym.Year > 0 && ym.Month >= time.January && ym.Month <= time.December
}

// MonthsBetween lists months from..to inclusive. Empty when to is before from.
func MonthsBetween(from, to YearMonth) []YearMonth {
	var out []YearMonth
	for m := from; !to.Before(m); m = m.Next() {
		out = append(out, m)
	}
	return out
}
