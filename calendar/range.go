package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when a range would end before it starts.
var ErrInvalidRange = errors.New("invalid date range: end before start")

// =============================================================================
// DATE RANGE - Inclusive on both ends
// =============================================================================

// DateRange is the inclusive range [Start, End].
//
// Allowance coverage is date-inclusive: a run from 11-30 23:10 to 12-01 02:40
// covers two dates, 11-30 and 12-01. Never build a DateRange by subtracting
// timestamps; use CoverageRange.
type DateRange struct {
	Start Date
	End   Date
}

// NewDateRange validates and returns [start, end].
func NewDateRange(start, end Date) (DateRange, error) {
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("%w: %s..%s", ErrInvalidRange, start, end)
	}
	return DateRange{Start: start, End: end}, nil
}

// CoverageRange returns DateOf(first)..=DateOf(last). It is the only
// constructor used for allowance coverage.
func CoverageRange(first, last time.Time) (DateRange, error) {
	return NewDateRange(DateOf(first), DateOf(last))
}

// Contains returns true if d is within [Start, End].
func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Len is the number of dates in the range.
func (r DateRange) Len() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start) + 1
}

// Days returns every date in the range in order.
func (r DateRange) Days() []Date {
	days := make([]Date, 0, r.Len())
	for d := r.Start; d.BeforeOrEqual(r.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Intersect returns the overlap of two ranges.
func (r DateRange) Intersect(o DateRange) (DateRange, bool) {
	start, end := r.Start, r.End
	if o.Start.After(start) {
		start = o.Start
	}
	if o.End.Before(end) {
		end = o.End
	}
	if end.Before(start) {
		return DateRange{}, false
	}
	return DateRange{Start: start, End: end}, true
}

// ClipTo returns the part of the range that falls in ym.
func (r DateRange) ClipTo(ym YearMonth) (DateRange, bool) {
	return r.Intersect(ym.Range())
}

// Months lists every month the range touches.
func (r DateRange) Months() []YearMonth {
	return MonthsBetween(r.Start.YearMonth(), r.End.YearMonth())
}

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
