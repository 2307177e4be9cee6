package engine

import (
	"errors"
	"fmt"

	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/calendar"
)

var (
	// ErrDriverMonthFailed marks a driver-month that produced no summary.
	ErrDriverMonthFailed = errors.New("driver-month failed")

	// ErrNoSummary is returned when nothing has been computed for a period.
	ErrNoSummary = errors.New("summary not found")
)

// Stage names where a driver-month failed.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageAggregate Stage = "aggregate"
	StageResolve   Stage = "resolve"
	StageBuild     Stage = "build"
	StagePersist   Stage = "persist"
)

// DriverMonthError scopes a failure to one driver-month.
type DriverMonthError struct {
	DriverID int64
	Month    calendar.YearMonth
	Stage    Stage
	Err      error
}

func (e *DriverMonthError) Error() string {
	return fmt.Sprintf("driver %d %s failed at %s: %v", e.DriverID, e.Month, e.Stage, e.Err)
}

func (e *DriverMonthError) Unwrap() []error { return []error{ErrDriverMonthFailed, e.Err} }

// IsRetryable returns true if the same run may succeed once more data is
// available.
func IsRetryable(err error) bool {
	return errors.Is(err, allowance.ErrInvalidOperationWindow)
}
