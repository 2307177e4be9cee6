package attendance

import (
	"errors"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

var (
	// ErrIncompleteShiftData is returned when a day's events cannot be paired.
	// Recoverable: the day is zero-valued and flagged.
	ErrIncompleteShiftData = errors.New("incomplete shift data")

	// ErrForeignRecord is returned when the aggregator is handed a record for
	// another driver or another month.
	ErrForeignRecord = errors.New("record does not belong to driver-month")

	// ErrDuplicateDay is returned when a date appears twice in one month.
	ErrDuplicateDay = errors.New("duplicate daily record")
)

// IncompleteShiftDataError names the clock-in that could not be closed.
type IncompleteShiftDataError struct {
	DriverID int64
	Date     calendar.Date
	ClockIn  time.Time
}

func (e *IncompleteShiftDataError) Error() string {
	return fmt.Sprintf("incomplete shift data: driver %d on %s: clock-in at %s has no clock-out",
		e.DriverID, e.Date, e.ClockIn.Format("15:04"))
}

func (e *IncompleteShiftDataError) Unwrap() error { return ErrIncompleteShiftData }
