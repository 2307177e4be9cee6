package allowance

import (
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// Derive computes the ContinuationState for driverID and t at cutoff from the
// operation history alone. Only operations starting on or before cutoff are
// considered, so the answer does not depend on anything that happened later.
//
// The state is active when a qualifying run's coverage contains cutoff.
func Derive(driverID int64, t Type, cutoff calendar.Date, ops []Operation, tol GapTolerance, asOf time.Time) ContinuationState {
	state, _ := derive(driverID, t, cutoff, ops, tol, asOf)
	return state
}

func derive(driverID int64, t Type, cutoff calendar.Date, ops []Operation, tol GapTolerance, asOf time.Time) (ContinuationState, *Run) {
	history := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if op.DriverID == driverID && calendar.DateOf(op.Start).BeforeOrEqual(cutoff) {
			history = append(history, op)
		}
	}

	state := ContinuationState{DriverID: driverID, Type: t, Cutoff: cutoff}
	runs := GroupRuns(history, tol, asOf)
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		if !run.Qualifies(t) {
			continue
		}
		cov, err := run.Coverage()
		if err != nil {
			continue
		}
		// An open run is still going at the cutoff even if the query time
		// is earlier.
		if !cov.Contains(cutoff) && !(run.Open && cov.Start.BeforeOrEqual(cutoff)) {
			continue
		}
		state.Active = true
		state.Since = cov.Start
		state.Provisional = run.Open
		return state, &run
	}
	return state, nil
}

// Inactive returns the empty carry-over at cutoff.
func Inactive(driverID int64, t Type, cutoff calendar.Date) ContinuationState {
	return ContinuationState{DriverID: driverID, Type: t, Cutoff: cutoff}
}
