package allowance

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// =============================================================================
// GAP TOLERANCE
// =============================================================================

// GapTolerance decides when an operation continues the previous one.
//
// With Duration > 0 an operation continues the run when it starts at most
// Duration after the run's end. Otherwise contiguity is by calendar date: the
// operation must start no later than CalendarDays dates after the date the
// run ended.
type GapTolerance struct {
	CalendarDays int
	Duration     time.Duration
}

// LegacyGapTolerance is "same day or next calendar day".
func LegacyGapTolerance() GapTolerance { return GapTolerance{CalendarDays: 1} }

// Continues reports whether an operation starting at next continues a run
// that ended at prevEnd.
func (g GapTolerance) Continues(prevEnd, next time.Time) bool {
	if !next.After(prevEnd) {
		return true
	}
	if g.Duration > 0 {
		return next.Sub(prevEnd) <= g.Duration
	}
	return !calendar.DateOf(next).After(calendar.DateOf(prevEnd).AddDays(g.CalendarDays))
}

// reachesBefore reports whether an operation that ended before the start of
// date d could still be contiguous with one starting at first.
func (g GapTolerance) reachesBefore(d calendar.Date, first time.Time) bool {
	if g.Duration > 0 {
		return first.Sub(d.Start(first.Location())) < g.Duration
	}
	return calendar.DateOf(first).BeforeOrEqual(d.AddDays(g.CalendarDays - 1))
}

// ReachDays is how many dates after a run's last date an operation may
// start and still join the run.
func (g GapTolerance) ReachDays() int {
	if g.Duration > 0 {
		const day = 24 * time.Hour
		return int((g.Duration + day - 1) / day)
	}
	return max(g.CalendarDays, 0)
}

func (g GapTolerance) String() string {
	if g.Duration > 0 {
		return g.Duration.String()
	}
	return fmt.Sprintf("%d calendar day(s)", g.CalendarDays)
}

// =============================================================================
// RUN
// =============================================================================

// Run is a maximal sequence of contiguous operations.
type Run struct {
	Operations []Operation
	Start      time.Time
	// End is the latest end among the operations, with open operations
	// ending at the query time.
	End  time.Time
	Open bool
}

// Qualifies reports whether every operation in the run carries the flag.
func (r Run) Qualifies(t Type) bool {
	if len(r.Operations) == 0 {
		return false
	}
	for _, op := range r.Operations {
		if !op.Eligible(t) {
			return false
		}
	}
	return true
}

// Coverage is the inclusive date range DateOf(Start)..=DateOf(End).
func (r Run) Coverage() (calendar.DateRange, error) {
	return calendar.CoverageRange(r.Start, r.End)
}

// GroupRuns drops excluded operations, orders the rest by start time (ties by
// key) and groups them into runs.
func GroupRuns(ops []Operation, tol GapTolerance, asOf time.Time) []Run {
	sorted := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if !op.Excluded {
			sorted = append(sorted, op)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].Key.String() < sorted[j].Key.String()
	})

	var runs []Run
	for _, op := range sorted {
		end := op.EndAt(asOf)
		if n := len(runs); n > 0 && tol.Continues(runs[n-1].End, op.Start) {
			cur := &runs[n-1]
			cur.Operations = append(cur.Operations, op)
			if end.After(cur.End) {
				cur.End = end
			}
			cur.Open = cur.Open || op.Open()
			continue
		}
		runs = append(runs, Run{
			Operations: []Operation{op},
			Start:      op.Start,
			End:        end,
			Open:       op.Open(),
		})
	}
	return runs
}
