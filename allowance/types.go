/*
Package allowance resolves special allowance entitlement across month boundaries.

PURPOSE:
  Drivers on livestock or trailer work are paid a per-day allowance. An
  operation can start before the month being paid and end after it, so the
  days must be split at month boundaries without being counted twice or
  dropped. This package decides which calendar dates of a month qualify.

KEY CONCEPTS IN THIS FILE (types.go):
  - Operation:         One driving assignment with eligibility flags
  - Run:               A maximal group of chronologically contiguous operations
  - ContinuationState: "Was the driver in a qualifying run at the cutoff date,
                        and since when" - a cache, never the source of truth
  - Input / Result:    What the Resolver consumes and produces

DESIGN PRINCIPLES:
  1. Inclusive coverage: a run covers DateOf(start)..=DateOf(end), built only
     through calendar.CoverageRange
  2. Re-derivable state: ContinuationState is a pure function of
     (driver, cutoff, operation history); see Derive
  3. Provisional results: an operation still in progress makes the count
     provisional, never silently final

SEE ALSO:
  - runs.go:         GroupRuns, GapTolerance
  - continuation.go: Derive
  - resolver.go:     Resolver.Resolve
  - rates.go:        Per-day allowance amounts
*/
package allowance

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// =============================================================================
// ALLOWANCE TYPE
// =============================================================================

type Type string

const (
	Livestock Type = "livestock"
	Trailer   Type = "trailer"
)

// Types lists every allowance type in a fixed order.
func Types() []Type { return []Type{Livestock, Trailer} }

// ParseType accepts the canonical names.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Livestock, Trailer:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown allowance type %q", s)
}

// =============================================================================
// OPERATION
// =============================================================================

// OperationKey is the composite operation identifier: operation number plus
// crew-role code.
type OperationKey struct {
	No       string
	CrewRole int
}

// String concatenates number and role, the form used to join expense rows.
func (k OperationKey) String() string { return fmt.Sprintf("%s%d", k.No, k.CrewRole) }

// Operation is a read-only input. End is nil while the operation is in
// progress.
type Operation struct {
	Key       OperationKey
	DriverID  int64
	Start     time.Time
	End       *time.Time
	Livestock bool
	Trailer   bool

	// Excluded is set when the matching expense row is marked excluded.
	// Excluded operations are dropped before grouping.
	Excluded bool
}

// Open reports whether the operation has not ended yet.
func (o Operation) Open() bool { return o.End == nil }

// EndAt returns End, or asOf when the operation is still open.
func (o Operation) EndAt(asOf time.Time) time.Time {
	if o.End == nil {
		return asOf
	}
	return *o.End
}

// Eligible reports whether the operation carries the flag for t.
func (o Operation) Eligible(t Type) bool {
	switch t {
	case Livestock:
		return o.Livestock
	case Trailer:
		return o.Trailer
	}
	return false
}

// Marker is a manual daily-report entry that credits one allowance date.
type Marker struct {
	Date calendar.Date
	Type Type
}

// =============================================================================
// CONTINUATION STATE
// =============================================================================

// ContinuationState is the carry-over for one driver and type at Cutoff,
// normally the last day of a month.
type ContinuationState struct {
	DriverID int64
	Type     Type
	Cutoff   calendar.Date

	// Active: a qualifying run covers Cutoff.
	Active bool
	// Since is the first covered date of that run. Zero when not active.
	Since calendar.Date
	// Provisional: the run contains an operation still in progress.
	Provisional bool
}

// Version is a short stable fingerprint of the state, recorded on each
// summary that consumed or produced it.
func (s ContinuationState) Version() string {
	since := "-"
	if s.Active {
		since = s.Since.String()
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%t|%s|%t", s.DriverID, s.Type, s.Cutoff, s.Active, since, s.Provisional)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (s ContinuationState) String() string {
	if !s.Active {
		return fmt.Sprintf("%s@%s inactive", s.Type, s.Cutoff)
	}
	return fmt.Sprintf("%s@%s active since %s", s.Type, s.Cutoff, s.Since)
}

// Baseline tells the caller which carry-over a result was computed from.
type Baseline string

const (
	// BaselineNone: no prior claim was supplied.
	BaselineNone Baseline = "none"
	// BaselineCarried: the carried state was reconciled and used.
	BaselineCarried Baseline = "carried"
	// BaselineRecomputed: the carried state was ignored and re-derived.
	BaselineRecomputed Baseline = "recomputed"
)

// =============================================================================
// RESOLVER INPUT / OUTPUT
// =============================================================================

// Input is everything the Resolver needs for one driver-month.
type Input struct {
	DriverID int64
	Month    calendar.YearMonth

	// Window is the span the Operations were fetched for. It must reach back
	// at least to the previous month's last day.
	Window     calendar.DateRange
	Operations []Operation

	// Carried holds last month's states by type. Missing types have no claim.
	Carried map[Type]*ContinuationState
	// Recompute ignores Carried and derives everything from Operations.
	Recompute bool

	// AsOf is the query time; open operations end here.
	AsOf time.Time

	// DayOffs are never credited by operation coverage.
	DayOffs []calendar.Date
	Markers []Marker
}

// Count is the result for one allowance type.
type Count struct {
	Days  int
	Dates []calendar.Date
	// Final is false while a contributing run can still change.
	Final bool
}

// Result is the Resolver output for one driver-month.
type Result struct {
	DriverID int64
	Month    calendar.YearMonth
	Counts   map[Type]Count
	// Next is the carry-over for the following month, keyed by type.
	Next     map[Type]ContinuationState
	Baseline Baseline
	// OpenEnded is set when a run crediting the month may continue past the
	// window end. A wider window can settle it.
	OpenEnded bool
}
