package allowance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnresolvableContinuation is returned when a carried ContinuationState
	// disagrees with the operations in the window. Recoverable by recomputing
	// the baseline from scratch.
	ErrUnresolvableContinuation = errors.New("unresolvable continuation")

	// ErrInvalidOperationWindow is returned when the operation window cannot
	// answer the question: prior-month boundary data is missing, or an
	// operation is malformed. Fatal for the driver-month.
	ErrInvalidOperationWindow = errors.New("invalid operation window")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// UnresolvableContinuationError carries the claim and what the window shows.
type UnresolvableContinuationError struct {
	DriverID int64
	Type     Type
	Claimed  ContinuationState
	Observed ContinuationState
	Reason   string
}

func (e *UnresolvableContinuationError) Error() string {
	return fmt.Sprintf("unresolvable continuation: driver %d %s: claimed %s, observed %s: %s",
		e.DriverID, e.Type, e.Claimed, e.Observed, e.Reason)
}

func (e *UnresolvableContinuationError) Unwrap() error { return ErrUnresolvableContinuation }

// TruncatedRunError means a qualifying run reaches back past the window start
// and no carried state says where it began. The caller must widen the
// lookback.
type TruncatedRunError struct {
	DriverID int64
	Type     Type
	RunStart string
	Window   string
}

func (e *TruncatedRunError) Error() string {
	return fmt.Sprintf("invalid operation window: driver %d %s: run starting %s may continue before window %s",
		e.DriverID, e.Type, e.RunStart, e.Window)
}

func (e *TruncatedRunError) Unwrap() error { return ErrInvalidOperationWindow }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRecoverable returns true if recomputing the baseline can resolve err.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnresolvableContinuation)
}

// NeedsWiderWindow returns true if err can be resolved by fetching more history.
func NeedsWiderWindow(err error) bool {
	var truncated *TruncatedRunError
	return errors.As(err, &truncated)
}
