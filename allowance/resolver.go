package allowance

import (
	"fmt"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// Resolver credits allowance dates for one driver-month and hands the
// carry-over to the next month.
type Resolver struct {
	tol GapTolerance
}

func NewResolver(tol GapTolerance) *Resolver {
	if tol.Duration <= 0 && tol.CalendarDays < 0 {
		tol.CalendarDays = 0
	}
	return &Resolver{tol: tol}
}

// Tolerance returns the configured gap tolerance.
func (r *Resolver) Tolerance() GapTolerance { return r.tol }

// carry is the outcome of reconciling a claim for one type.
type carry struct {
	// run is the index of the run covering the previous month's last day, or -1.
	run int
	// disqualify: the claim says that run does not qualify, for reasons that
	// lie before the window.
	disqualify bool
	// since overrides the run's first date when it began before the window.
	since calendar.Date
}

// Resolve computes the allowance counts of in.Month.
//
// Steps for each type:
//  1. Group the window's operations into runs.
//  2. Reconcile the carried state with the state derived at the previous
//     month's last day.
//  3. Credit the dates of every qualifying run that fall in the month, minus
//     day-offs, plus manual markers. Each date counts once.
//  4. Derive the carry-over at the month's last day.
func (r *Resolver) Resolve(in Input) (*Result, error) {
	if err := r.validate(in); err != nil {
		return nil, err
	}

	prevLast := in.Month.Prev().Last()
	// Operations after the month stay in: they can extend a run into it or
	// keep it from qualifying.
	ops := make([]Operation, 0, len(in.Operations))
	for _, op := range in.Operations {
		if calendar.DateOf(op.Start).BeforeOrEqual(in.Window.End) {
			ops = append(ops, op)
		}
	}
	runs := GroupRuns(ops, r.tol, in.AsOf)
	dayOffs := calendar.NewDateSet(in.DayOffs...)

	res := &Result{
		DriverID: in.DriverID,
		Month:    in.Month,
		Counts:   make(map[Type]Count, len(Types())),
		Next:     make(map[Type]ContinuationState, len(Types())),
		Baseline: BaselineNone,
	}
	if in.Recompute {
		res.Baseline = BaselineRecomputed
	} else if len(in.Carried) > 0 {
		res.Baseline = BaselineCarried
	}

	for _, t := range Types() {
		var claim *ContinuationState
		if !in.Recompute {
			claim = in.Carried[t]
		}

		observed, observedRun := derive(in.DriverID, t, prevLast, ops, r.tol, in.AsOf)
		c := carry{run: -1}
		if observedRun != nil {
			c.run = runIndex(runs, observedRun.Operations[0])
		}
		truncated := c.run >= 0 && r.truncated(runs[c.run], in.Window)

		if err := r.reconcile(in, t, claim, observed, truncated, &c); err != nil {
			return nil, err
		}

		count, openEnded, err := r.credit(in, t, runs, c, dayOffs)
		if err != nil {
			return nil, err
		}
		res.Counts[t] = count
		res.OpenEnded = res.OpenEnded || openEnded

		next, nextRun := derive(in.DriverID, t, in.Month.Last(), ops, r.tol, in.AsOf)
		if nextRun != nil && c.run >= 0 && runIndex(runs, nextRun.Operations[0]) == c.run {
			if c.disqualify {
				next = Inactive(in.DriverID, t, in.Month.Last())
			} else if !c.since.IsZero() {
				next.Since = c.since
			}
		}
		res.Next[t] = next
	}
	return res, nil
}

// ReplayState derives the state at cutoff from ops, as Resolve would carry
// it. When the covering run reaches back past the window, the claim is
// trusted for what lies before it: an earlier start, or a disqualification.
// truncated reports that case.
func (r *Resolver) ReplayState(driverID int64, t Type, cutoff calendar.Date, ops []Operation, window calendar.DateRange, asOf time.Time, claim *ContinuationState) (state ContinuationState, truncated bool) {
	observed, run := derive(driverID, t, cutoff, ops, r.tol, asOf)
	if run == nil || !r.truncated(*run, window) {
		return observed, false
	}
	if claim == nil || claim.Type != t || !claim.Cutoff.Equal(cutoff) {
		return observed, true
	}
	if !claim.Active {
		return Inactive(driverID, t, cutoff), true
	}
	if claim.Since.Before(window.Start) && claim.Since.Before(observed.Since) {
		observed.Since = claim.Since
	}
	return observed, true
}

func (r *Resolver) validate(in Input) error {
	if !in.Month.Valid() {
		return fmt.Errorf("%w: invalid month %v", ErrInvalidOperationWindow, in.Month)
	}
	prevLast := in.Month.Prev().Last()
	if !in.Window.Contains(prevLast) || !in.Window.Contains(in.Month.Last()) {
		return fmt.Errorf("%w: window %s must cover %s through %s",
			ErrInvalidOperationWindow, in.Window, prevLast, in.Month.Last())
	}
	for _, op := range in.Operations {
		if op.DriverID != in.DriverID {
			return fmt.Errorf("%w: operation %s belongs to driver %d, not %d",
				ErrInvalidOperationWindow, op.Key, op.DriverID, in.DriverID)
		}
		if op.Start.IsZero() {
			return fmt.Errorf("%w: operation %s has no start", ErrInvalidOperationWindow, op.Key)
		}
		if op.Open() {
			if in.AsOf.IsZero() || in.AsOf.Before(op.Start) {
				return fmt.Errorf("%w: operation %s is open and as-of time %s precedes its start",
					ErrInvalidOperationWindow, op.Key, in.AsOf.Format(time.RFC3339))
			}
			continue
		}
		if op.End.Before(op.Start) {
			return fmt.Errorf("%w: operation %s ends before it starts", ErrInvalidOperationWindow, op.Key)
		}
	}
	return nil
}

// truncated reports whether the run may have begun before the window: it
// contains an operation starting before the window, or an operation ending
// just before the window start would have been contiguous with it.
func (r *Resolver) truncated(run Run, window calendar.DateRange) bool {
	for _, op := range run.Operations {
		if calendar.DateOf(op.Start).Before(window.Start) {
			return true
		}
	}
	return r.tol.reachesBefore(window.Start, run.Start)
}

func (r *Resolver) reconcile(in Input, t Type, claim *ContinuationState, observed ContinuationState, truncated bool, c *carry) error {
	if claim == nil {
		if observed.Active && truncated {
			return &TruncatedRunError{
				DriverID: in.DriverID,
				Type:     t,
				RunStart: observed.Since.String(),
				Window:   in.Window.String(),
			}
		}
		return nil
	}

	fail := func(reason string) error {
		return &UnresolvableContinuationError{
			DriverID: in.DriverID,
			Type:     t,
			Claimed:  *claim,
			Observed: observed,
			Reason:   reason,
		}
	}

	if claim.DriverID != in.DriverID || claim.Type != t {
		return fail("claim belongs to another driver or type")
	}
	if !claim.Cutoff.Equal(observed.Cutoff) {
		return fail(fmt.Sprintf("claim cutoff %s, expected %s", claim.Cutoff, observed.Cutoff))
	}

	switch {
	case !claim.Active && !observed.Active:
		return nil
	case claim.Active && !observed.Active:
		return fail("no qualifying run in the window supports the claim")
	case !claim.Active && observed.Active:
		if truncated {
			// The run started before the window; the claim knows it did not qualify.
			c.disqualify = true
			return nil
		}
		return fail("a qualifying run covers the cutoff but the claim is inactive")
	}

	if claim.Since.Equal(observed.Since) {
		return nil
	}
	if truncated && claim.Since.Before(in.Window.Start) && claim.Since.Before(observed.Since) {
		c.since = claim.Since
		return nil
	}
	return fail(fmt.Sprintf("claimed since %s, window shows since %s", claim.Since, observed.Since))
}

// credit collects the month's dates of every qualifying run. openEnded
// reports a crediting run that operations past the window could still join.
func (r *Resolver) credit(in Input, t Type, runs []Run, c carry, dayOffs *calendar.DateSet) (Count, bool, error) {
	credited := calendar.NewDateSet()
	final, openEnded := true, false

	for i, run := range runs {
		if !run.Qualifies(t) || (i == c.run && c.disqualify) {
			continue
		}
		cov, err := run.Coverage()
		if err != nil {
			return Count{}, false, fmt.Errorf("%w: %v", ErrInvalidOperationWindow, err)
		}
		piece, ok := cov.ClipTo(in.Month)
		if !ok {
			continue
		}
		for _, d := range piece.Days() {
			if !dayOffs.Has(d) {
				credited.Add(d)
			}
		}
		settled, beyondWindow := r.settled(run, in)
		if !settled {
			final = false
		}
		openEnded = openEnded || beyondWindow
	}

	for _, m := range in.Markers {
		if m.Type == t && in.Month.Contains(m.Date) {
			credited.Add(m.Date)
		}
	}

	dates := credited.Sorted()
	return Count{Days: len(dates), Dates: dates, Final: final}, openEnded, nil
}

// settled reports whether no operation still unknown could join the run.
// Unknown operations start after the window end or after the as-of time.
// beyondWindow is set when only operations past the window end could.
func (r *Resolver) settled(run Run, in Input) (settled, beyondWindow bool) {
	if run.Open {
		return false, false
	}
	windowEnd := in.Window.End.AddDays(1).Start(run.End.Location())
	if r.tol.Continues(run.End, windowEnd) {
		return false, in.AsOf.IsZero() || !in.AsOf.Before(windowEnd)
	}
	if !in.AsOf.IsZero() && in.AsOf.Before(windowEnd) && r.tol.Continues(run.End, in.AsOf) {
		return false, false
	}
	return true, false
}

func runIndex(runs []Run, first Operation) int {
	for i, run := range runs {
		head := run.Operations[0]
		if head.Key == first.Key && head.Start.Equal(first.Start) {
			return i
		}
	}
	return -1
}
