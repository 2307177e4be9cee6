/*
Package engine runs the per driver-month pipeline and batches of it.

PURPOSE:
  Wires the pure packages (attendance, allowance, summary) to the external
  collaborators: where raw records come from, where summaries go, and where
  continuation states are cached between months.

KEY CONCEPTS IN THIS FILE (source.go):
  - Source:     Shift Record Source (events, operations, day-offs, markers)
  - Sink:       Persistence collaborator for finished summaries
  - StateStore: Cache of ContinuationStates between consecutive months

PIPELINE (pipeline.go):
  fetch -> daily records -> monthly totals
        -> continuation resolve (carried or recomputed) -> summary -> save

CONCURRENCY (batch.go):
  Drivers are partitioned upfront and run in parallel; months of one driver
  run as a strict sequential chain.

SEE ALSO:
  - store/memory, store/sqlite, store/mysql, store/postgres: implementations
*/
package engine

import (
	"context"

	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/summary"
)

// =============================================================================
// SHIFT RECORD SOURCE
// =============================================================================

// Driver is one payroll subject.
type Driver struct {
	ID   int64
	Name string
}

// Request asks for the raw data of one driver-month.
type Request struct {
	DriverID int64
	Month    calendar.YearMonth
	// LookbackDays are fetched before the month's first day.
	LookbackDays int
	// LookaheadDays of events are fetched after the month's last day.
	LookaheadDays int
	// ReachDays of operations are fetched after the month's last day, so a
	// run that continues into the next month is seen whole.
	ReachDays int
}

// Window is the range operations are fetched for.
func (r Request) Window() calendar.DateRange {
	return calendar.DateRange{
		Start: r.Month.First().AddDays(-r.LookbackDays),
		End:   r.Month.Last().AddDays(r.ReachDays),
	}
}

// EventRange is the range shift events are fetched for.
func (r Request) EventRange() calendar.DateRange {
	return calendar.DateRange{
		Start: r.Month.First(),
		End:   r.Month.Last().AddDays(r.LookaheadDays),
	}
}

// Batch is the raw data for one driver-month.
type Batch struct {
	Events     []attendance.ShiftEvent
	Operations []allowance.Operation
	DayOffs    []calendar.Date
	Markers    []allowance.Marker
	Window     calendar.DateRange
}

// Source supplies raw records. Implementations must only return rows of the
// requested driver.
type Source interface {
	Drivers(ctx context.Context, month calendar.YearMonth) ([]Driver, error)
	Fetch(ctx context.Context, req Request) (*Batch, error)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// SaveOutcome tells whether a save changed anything.
type SaveOutcome string

const (
	SaveInserted  SaveOutcome = "inserted"
	SaveUpdated   SaveOutcome = "updated"
	SaveUnchanged SaveOutcome = "unchanged"
)

// Sink persists summaries. It replaces only the rows of the summary's own
// driver-month, in one transaction.
type Sink interface {
	SaveSummary(ctx context.Context, s *summary.Summary) (SaveOutcome, error)
}

// StateStore caches ContinuationStates. GetState returns nil, nil when no
// state is stored.
type StateStore interface {
	GetState(ctx context.Context, driverID int64, t allowance.Type, cutoff calendar.Date) (*allowance.ContinuationState, error)
	PutState(ctx context.Context, state allowance.ContinuationState) error
}

// RunRecorder keeps a log of batch runs. Optional.
type RunRecorder interface {
	RecordRun(ctx context.Context, report *BatchReport) error
}
