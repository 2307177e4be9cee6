package allowance_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/calendar"
)

func TestGapTolerance_CalendarDays(t *testing.T) {
	tol := allowance.LegacyGapTolerance()
	end := ts(time.December, 3, 22, 0)

	assert.True(t, tol.Continues(end, ts(time.December, 3, 23, 0)), "same day")
	assert.True(t, tol.Continues(end, ts(time.December, 4, 23, 59)), "next calendar day")
	assert.False(t, tol.Continues(end, ts(time.December, 5, 0, 0)), "two days later")
	assert.True(t, tol.Continues(end, ts(time.December, 2, 0, 0)), "overlapping")
}

func TestGapTolerance_Duration(t *testing.T) {
	tol := allowance.GapTolerance{Duration: 6 * time.Hour}
	end := ts(time.December, 3, 22, 0)

	assert.True(t, tol.Continues(end, ts(time.December, 4, 4, 0)))
	assert.False(t, tol.Continues(end, ts(time.December, 4, 4, 1)))
}

func TestGroupRuns_OrdersAndSplits(t *testing.T) {
	// GIVEN: Operations delivered out of order, with one gap
	ops := []allowance.Operation{
		trailerOp("G3", ts(time.December, 10, 8, 0), ts(time.December, 10, 17, 0)),
		trailerOp("G1", ts(time.December, 1, 8, 0), ts(time.December, 1, 17, 0)),
		trailerOp("G2", ts(time.December, 2, 8, 0), ts(time.December, 3, 2, 0)),
	}

	// WHEN
	runs := allowance.GroupRuns(ops, allowance.LegacyGapTolerance(), time.Time{})

	// THEN
	require.Len(t, runs, 2)
	assert.Equal(t, "G1", runs[0].Operations[0].Key.No)
	assert.Equal(t, "G2", runs[0].Operations[1].Key.No)
	assert.Equal(t, ts(time.December, 3, 2, 0), runs[0].End)

	cov, err := runs[0].Coverage()
	require.NoError(t, err)
	assert.Equal(t, 3, cov.Len())
}

func TestGroupRuns_TieBreakByKey(t *testing.T) {
	start := ts(time.December, 1, 8, 0)
	ops := []allowance.Operation{
		trailerOp("B", start, start.Add(time.Hour)),
		trailerOp("A", start, start.Add(2*time.Hour)),
	}

	runs := allowance.GroupRuns(ops, allowance.LegacyGapTolerance(), time.Time{})
	require.Len(t, runs, 1)
	assert.Equal(t, "A", runs[0].Operations[0].Key.No)
	assert.Equal(t, start.Add(2*time.Hour), runs[0].End)
}

func TestGroupRuns_OpenOperationEndsAtQueryTime(t *testing.T) {
	op := trailerOp("P1", ts(time.December, 1, 8, 0), time.Time{})
	op.End = nil
	asOf := ts(time.December, 2, 9, 0)

	runs := allowance.GroupRuns([]allowance.Operation{op}, allowance.LegacyGapTolerance(), asOf)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Open)
	assert.Equal(t, asOf, runs[0].End)
}

func TestRun_QualifiesPerType(t *testing.T) {
	op := trailerOp("Q1", ts(time.December, 1, 8, 0), ts(time.December, 1, 9, 0))
	op.Livestock = true
	run := allowance.GroupRuns([]allowance.Operation{op}, allowance.LegacyGapTolerance(), time.Time{})[0]

	assert.True(t, run.Qualifies(allowance.Trailer))
	assert.True(t, run.Qualifies(allowance.Livestock))
	assert.False(t, allowance.Run{}.Qualifies(allowance.Trailer))
}

func TestOperationKey_String(t *testing.T) {
	k := allowance.OperationKey{No: "20251130-07", CrewRole: 2}
	assert.Equal(t, "20251130-072", k.String())
}

func TestRates(t *testing.T) {
	rates, err := allowance.ParseRates(map[string]string{"trailer": "1250.50"})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("3751.50").Equal(rates.Amount(allowance.Trailer, 3)))
	assert.True(t, allowance.DefaultRates().Rate(allowance.Livestock).Equal(rates.Rate(allowance.Livestock)))

	_, err = allowance.ParseRates(map[string]string{"bus": "10"})
	assert.Error(t, err)
	_, err = allowance.ParseRates(map[string]string{"trailer": "-1"})
	assert.Error(t, err)
}

func TestDerive_IgnoresLaterOperations(t *testing.T) {
	cutoff := calendar.NewDate(2025, time.November, 30)
	ops := []allowance.Operation{
		trailerOp("E1", ts(time.December, 1, 0, 30), ts(time.December, 1, 5, 0)),
	}

	state := allowance.Derive(driverID, allowance.Trailer, cutoff, ops, allowance.LegacyGapTolerance(), time.Time{})
	assert.False(t, state.Active)
	assert.Equal(t, cutoff, state.Cutoff)
}
