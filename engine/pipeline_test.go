package engine_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const driverID = int64(42)

var (
	november = calendar.YearMonth{Year: 2025, Month: time.November}
	december = calendar.YearMonth{Year: 2025, Month: time.December}
	asOf     = time.Date(2026, time.January, 15, 9, 0, 0, 0, time.UTC)
)

func ts(month time.Month, day, hour, min int) time.Time {
	return time.Date(2025, month, day, hour, min, 0, 0, time.UTC)
}

func trailerOp(no string, start, end time.Time) allowance.Operation {
	return allowance.Operation{
		Key:      allowance.OperationKey{No: no, CrewRole: 1},
		DriverID: driverID,
		Start:    start,
		End:      &end,
		Trailer:  true,
	}
}

func shift(in, out time.Time) []attendance.ShiftEvent {
	return []attendance.ShiftEvent{
		{DriverID: driverID, At: in, Kind: attendance.ClockIn},
		{DriverID: driverID, At: out, Kind: attendance.ClockOut},
	}
}

func quietLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newPipeline(t *testing.T, m *memory.Memory, source engine.Source) *engine.Pipeline {
	t.Helper()
	if source == nil {
		source = m
	}
	p, err := engine.NewPipeline(engine.DefaultConfig(), engine.Deps{
		Source: source,
		Sink:   m,
		States: m,
		Runs:   m,
		Logger: quietLogger(),
		Now:    func() time.Time { return asOf },
	})
	require.NoError(t, err)
	return p
}

// failingSource fails Fetch for one driver.
type failingSource struct {
	*memory.Memory
	failFor int64
}

func (s failingSource) Fetch(ctx context.Context, req engine.Request) (*engine.Batch, error) {
	if req.DriverID == s.failFor {
		return nil, errors.New("connection reset")
	}
	return s.Memory.Fetch(ctx, req)
}

// cancellingSource cancels the run's context right after fetching.
type cancellingSource struct {
	*memory.Memory
	cancel context.CancelFunc
}

func (s cancellingSource) Fetch(ctx context.Context, req engine.Request) (*engine.Batch, error) {
	batch, err := s.Memory.Fetch(ctx, req)
	s.cancel()
	return batch, err
}

// =============================================================================
// SINGLE DRIVER-MONTH
// =============================================================================

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := engine.NewPipeline(engine.DefaultConfig(), engine.Deps{})
	assert.Error(t, err)
}

func TestRunChain_BoundaryRunSplitsAcrossMonths(t *testing.T) {
	// GIVEN: One trailer run from 2025-11-30 23:10 to 2025-12-01 02:40 and the
	// matching shift
	m := memory.New()
	m.AddOperations(trailerOp("B1", ts(time.November, 30, 23, 10), ts(time.December, 1, 2, 40)))
	m.AddEvents(shift(ts(time.November, 30, 23, 0), ts(time.December, 1, 3, 0))...)
	p := newPipeline(t, m, nil)

	// WHEN: Running November then December
	outs, err := p.RunChain(context.Background(), driverID, november, december)
	require.NoError(t, err)
	require.Len(t, outs, 2)

	// THEN: One day in each month, and December used November's carry-over
	nov, dec := outs[0], outs[1]
	assert.Equal(t, 1, nov.Summary.Allowance(allowance.Trailer).Days)
	assert.Equal(t, 1, dec.Summary.Allowance(allowance.Trailer).Days)
	assert.Equal(t, allowance.BaselineCarried, dec.Baseline)

	// The crossing shift is credited to the date it started.
	assert.Equal(t, 4*time.Hour, nov.Summary.Totals().Restraint)
	assert.Zero(t, dec.Summary.Totals().Restraint)

	carried := nov.Summary.Provenance().NextVersions[allowance.Trailer]
	assert.Equal(t, carried, dec.Summary.Provenance().CarriedVersions[allowance.Trailer])
}

func TestRunDriverMonth_RecomputesOnBadState(t *testing.T) {
	// GIVEN: A stored November state claiming an active run that the raw
	// operations do not support
	m := memory.New()
	m.AddOperations(trailerOp("D5", ts(time.December, 5, 6, 0), ts(time.December, 5, 18, 0)))
	require.NoError(t, m.PutState(context.Background(), allowance.ContinuationState{
		DriverID: driverID,
		Type:     allowance.Trailer,
		Cutoff:   november.Last(),
		Active:   true,
		Since:    calendar.NewDate(2025, time.November, 1),
	}))
	p := newPipeline(t, m, nil)

	// WHEN
	out, err := p.RunDriverMonth(context.Background(), driverID, december)

	// THEN: The state is ignored and the month re-derived
	require.NoError(t, err)
	assert.Equal(t, allowance.BaselineRecomputed, out.Baseline)
	assert.Equal(t, 1, out.Summary.Allowance(allowance.Trailer).Days)
}

func TestRunDriverMonth_WidensLookbackForLongRun(t *testing.T) {
	// GIVEN: Daily trailer operations from 2025-09-20 through 2025-12-03
	m := memory.New()
	for d := calendar.NewDate(2025, time.September, 20); !d.After(calendar.NewDate(2025, time.December, 3)); d = d.AddDays(1) {
		start := d.Start(time.UTC).Add(6 * time.Hour)
		m.AddOperations(trailerOp("R"+d.String(), start, start.Add(12*time.Hour)))
	}
	p := newPipeline(t, m, nil)

	// WHEN: Running December with no stored state
	out, err := p.RunDriverMonth(context.Background(), driverID, december)

	// THEN: The window was doubled until it saw the run's first operation
	require.NoError(t, err)
	assert.Equal(t, 124, out.LookbackDays)
	assert.Equal(t, 3, out.Summary.Allowance(allowance.Trailer).Days)
	assert.Equal(t, allowance.BaselineNone, out.Baseline)
}

func TestRunDriverMonth_GivesUpAtMaxLookback(t *testing.T) {
	// GIVEN: A lookback ceiling too small to reach the run's start
	m := memory.New()
	for d := calendar.NewDate(2025, time.September, 1); !d.After(calendar.NewDate(2025, time.December, 2)); d = d.AddDays(1) {
		start := d.Start(time.UTC).Add(6 * time.Hour)
		m.AddOperations(trailerOp("R"+d.String(), start, start.Add(12*time.Hour)))
	}
	cfg := engine.DefaultConfig()
	cfg.MaxLookbackDays = 40
	p, err := engine.NewPipeline(cfg, engine.Deps{Source: m, Sink: m, States: m, Logger: quietLogger(), Now: func() time.Time { return asOf }})
	require.NoError(t, err)

	// WHEN
	_, err = p.RunDriverMonth(context.Background(), driverID, december)

	// THEN: The failure is typed and retryable, and nothing was saved
	require.Error(t, err)
	assert.True(t, engine.IsRetryable(err))
	assert.ErrorIs(t, err, engine.ErrDriverMonthFailed)
	var dmErr *engine.DriverMonthError
	require.ErrorAs(t, err, &dmErr)
	assert.Equal(t, engine.StageResolve, dmErr.Stage)
	assert.Zero(t, m.Saves())
}

func TestRunDriverMonth_IncompleteDayIsZero(t *testing.T) {
	// GIVEN: A clean morning shift on the 2nd and a clock-in with no clock-out
	// on the 3rd
	m := memory.New()
	m.AddEvents(shift(ts(time.December, 2, 6, 0), ts(time.December, 2, 11, 30))...)
	m.AddEvents(attendance.ShiftEvent{DriverID: driverID, At: ts(time.December, 3, 6, 0), Kind: attendance.ClockIn})
	p := newPipeline(t, m, nil)

	// WHEN
	out, err := p.RunDriverMonth(context.Background(), driverID, december)

	// THEN: The month still completes; only the broken day is zero
	require.NoError(t, err)
	assert.Equal(t, 1, out.IncompleteDays)
	assert.Equal(t, 5*time.Hour+30*time.Minute, out.Summary.Totals().Restraint)
	assert.Equal(t, 1, out.Summary.Totals().IncompleteDays)

	days := out.Summary.Days()
	require.Len(t, days, december.Days())
	assert.True(t, days[2].Flags.Has(attendance.FlagIncomplete))
	assert.Zero(t, days[2].Restraint)
}

func TestRunDriverMonth_IdempotentRerun(t *testing.T) {
	// GIVEN
	m := memory.New()
	m.AddOperations(trailerOp("D5", ts(time.December, 5, 6, 0), ts(time.December, 5, 18, 0)))
	m.AddEvents(shift(ts(time.December, 5, 6, 0), ts(time.December, 5, 11, 0))...)
	p := newPipeline(t, m, nil)
	ctx := context.Background()

	// WHEN: Running the same month twice
	first, err := p.RunDriverMonth(ctx, driverID, december)
	require.NoError(t, err)
	second, err := p.RunDriverMonth(ctx, driverID, december)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, engine.SaveInserted, first.Saved)
	assert.Equal(t, engine.SaveUnchanged, second.Saved)

	a, err := first.Summary.MarshalJSON()
	require.NoError(t, err)
	b, err := second.Summary.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestRunDriverMonth_CancelledPersistsNothing(t *testing.T) {
	// GIVEN: A source that cancels the context once data has been fetched
	m := memory.New()
	m.AddOperations(trailerOp("D5", ts(time.December, 5, 6, 0), ts(time.December, 5, 18, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newPipeline(t, m, cancellingSource{Memory: m, cancel: cancel})

	// WHEN
	_, err := p.RunDriverMonth(ctx, driverID, december)

	// THEN: No summary and no state were written
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.Saves())
	st, err := m.GetState(context.Background(), driverID, allowance.Trailer, december.Last())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRunDriverMonth_InvalidMonth(t *testing.T) {
	m := memory.New()
	p := newPipeline(t, m, nil)

	_, err := p.RunDriverMonth(context.Background(), driverID, calendar.YearMonth{Year: 2025, Month: 13})
	assert.ErrorIs(t, err, engine.ErrDriverMonthFailed)
}

// =============================================================================
// BATCH
// =============================================================================

func TestRunMonth_OneFailingDriverDoesNotStopOthers(t *testing.T) {
	// GIVEN: Three drivers, the source fails for driver 7
	m := memory.New()
	for _, id := range []int64{driverID, 7, 9} {
		m.AddDriver(engine.Driver{ID: id})
	}
	p := newPipeline(t, m, failingSource{Memory: m, failFor: 7})

	// WHEN: Running December for all listed drivers
	report, err := p.RunMonth(context.Background(), december)
	require.NoError(t, err)

	// THEN
	require.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, report.Failed())
	for _, res := range report.Results {
		if res.DriverID == 7 {
			assert.Error(t, res.Err)
			assert.Nil(t, res.Outcome)
			continue
		}
		assert.NoError(t, res.Err)
		assert.NotNil(t, res.Outcome)
	}
	assert.NotEmpty(t, report.ID)
	assert.Len(t, m.Runs(), 1)
}

func TestRunMonth_DeduplicatesDrivers(t *testing.T) {
	m := memory.New()
	p := newPipeline(t, m, nil)

	report, err := p.RunMonth(context.Background(), december, 9, 42, 9)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, int64(9), report.Results[0].DriverID)
	assert.Equal(t, int64(42), report.Results[1].DriverID)
	assert.Equal(t, 2, m.Saves())
}

func TestRunMonth_ProvisionalSummaries(t *testing.T) {
	// GIVEN: An operation still in progress at the end of December
	m := memory.New()
	m.AddDriver(engine.Driver{ID: driverID})
	open := trailerOp("OPEN", ts(time.December, 30, 20, 0), ts(time.December, 30, 20, 0))
	open.End = nil
	m.AddOperations(open)
	p := newPipeline(t, m, nil)

	// WHEN
	report, err := p.RunMonth(context.Background(), december)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, 1, report.Provisional())
	st, ok := report.Results[0].Outcome.Summary.Continuation(allowance.Trailer)
	require.True(t, ok)
	assert.True(t, st.Provisional)
}

// =============================================================================
// CONTINUATION CHECK
// =============================================================================

func TestCheckContinuation_ConsistentAfterRun(t *testing.T) {
	// GIVEN: December computed with a run active at its last day
	m := memory.New()
	m.AddOperations(
		trailerOp("A", ts(time.December, 30, 6, 0), ts(time.December, 30, 18, 0)),
		trailerOp("B", ts(time.December, 31, 6, 0), ts(time.December, 31, 18, 0)),
	)
	p := newPipeline(t, m, nil)
	_, err := p.RunDriverMonth(context.Background(), driverID, december)
	require.NoError(t, err)

	// WHEN
	check, err := p.CheckContinuation(context.Background(), driverID, december)
	require.NoError(t, err)

	// THEN
	assert.True(t, check.Consistent)
	assert.True(t, check.Replayed[allowance.Trailer].Active)
	assert.Equal(t, calendar.NewDate(2025, time.December, 30), check.Replayed[allowance.Trailer].Since)
}

func TestCheckContinuation_DetectsDrift(t *testing.T) {
	// GIVEN: A stored state that disagrees with the raw operations
	m := memory.New()
	require.NoError(t, m.PutState(context.Background(), allowance.ContinuationState{
		DriverID: driverID,
		Type:     allowance.Livestock,
		Cutoff:   december.Last(),
		Active:   true,
		Since:    calendar.NewDate(2025, time.December, 20),
	}))
	p := newPipeline(t, m, nil)

	// WHEN
	check, err := p.CheckContinuation(context.Background(), driverID, december)
	require.NoError(t, err)

	// THEN
	assert.False(t, check.Consistent)
}

func TestCheckContinuation_RunLongerThanLookback(t *testing.T) {
	// GIVEN: Daily trailer operations from 2025-09-01 through 12-31, computed
	// month by month with a lookback ceiling of 40 days
	m := memory.New()
	for d := calendar.NewDate(2025, time.September, 1); !d.After(december.Last()); d = d.AddDays(1) {
		start := d.Start(time.UTC).Add(6 * time.Hour)
		m.AddOperations(trailerOp("L"+d.String(), start, start.Add(12*time.Hour)))
	}
	cfg := engine.DefaultConfig()
	cfg.MaxLookbackDays = 40
	p, err := engine.NewPipeline(cfg, engine.Deps{Source: m, Sink: m, States: m, Logger: quietLogger(), Now: func() time.Time { return asOf }})
	require.NoError(t, err)
	september := calendar.YearMonth{Year: 2025, Month: time.September}
	_, err = p.RunChain(context.Background(), driverID, september, december)
	require.NoError(t, err)

	// WHEN: Replaying December, whose run began before the widest lookback
	check, err := p.CheckContinuation(context.Background(), driverID, december)
	require.NoError(t, err)

	// THEN: The carried start stands in for the unseen part
	assert.True(t, check.Consistent)
	assert.True(t, check.Truncated[allowance.Trailer])
	assert.Equal(t, calendar.NewDate(2025, time.September, 1), check.Replayed[allowance.Trailer].Since)
	assert.False(t, check.Truncated[allowance.Livestock])
}

func TestRunChain_WiderToleranceCreditsGapDate(t *testing.T) {
	// GIVEN: A two-calendar-day tolerance and a run 11-28..12-02 with no
	// operation on 11-30
	m := memory.New()
	m.AddOperations(
		trailerOp("G1", ts(time.November, 28, 8, 0), ts(time.November, 29, 18, 0)),
		trailerOp("G2", ts(time.December, 1, 6, 0), ts(time.December, 2, 18, 0)),
	)
	cfg := engine.DefaultConfig()
	cfg.Tolerance = allowance.GapTolerance{CalendarDays: 2}
	p, err := engine.NewPipeline(cfg, engine.Deps{Source: m, Sink: m, States: m, Logger: quietLogger(), Now: func() time.Time { return asOf }})
	require.NoError(t, err)

	// WHEN
	outs, err := p.RunChain(context.Background(), driverID, november, december)
	require.NoError(t, err)
	require.Len(t, outs, 2)

	// THEN: November fetched far enough ahead to see the run end, and the
	// five dates split 3+2
	nov, dec := outs[0], outs[1]
	assert.Equal(t, 3, nov.Summary.Allowance(allowance.Trailer).Days)
	assert.True(t, nov.Summary.IsFinal())
	assert.Greater(t, nov.ReachDays, 3)
	assert.Equal(t, 2, dec.Summary.Allowance(allowance.Trailer).Days)
}
