package summary_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/summary"
)

var december = calendar.YearMonth{Year: 2025, Month: time.December}

func december3() calendar.Date { return calendar.NewDate(2025, time.December, 3) }

func resultFor(days int, final bool) *allowance.Result {
	dates := make([]calendar.Date, days)
	for i := range dates {
		dates[i] = calendar.NewDate(2025, time.December, i+1)
	}
	return &allowance.Result{
		DriverID: 42,
		Month:    december,
		Counts: map[allowance.Type]allowance.Count{
			allowance.Trailer:   {Days: days, Dates: dates, Final: final},
			allowance.Livestock: {Final: true},
		},
		Next: map[allowance.Type]allowance.ContinuationState{
			allowance.Trailer:   allowance.Inactive(42, allowance.Trailer, december.Last()),
			allowance.Livestock: allowance.Inactive(42, allowance.Livestock, december.Last()),
		},
		Baseline: allowance.BaselineNone,
	}
}

func params() summary.Params {
	return summary.Params{
		DriverID: 42,
		Month:    december,
		Totals:   attendance.Totals{Restraint: 9 * time.Hour, Driving: 8 * time.Hour, WorkedDays: 1},
		Days: []attendance.DailyRecord{{
			DriverID:  42,
			Date:      december3(),
			Restraint: 9 * time.Hour,
			Driving:   8 * time.Hour,
			Shifts: []attendance.Shift{{
				In:  time.Date(2025, time.December, 3, 6, 0, 0, 0, time.UTC),
				Out: time.Date(2025, time.December, 3, 16, 0, 0, 0, time.UTC),
			}},
			Flags: attendance.FlagNoonBreak,
		}},
		Allowance:    resultFor(14, true),
		Rates:        allowance.DefaultRates(),
		SourceDigest: "abc123",
	}
}

func TestBuild_ComputesFiguresAndAmounts(t *testing.T) {
	s, err := summary.Build(params())
	require.NoError(t, err)

	trailer := s.Allowance(allowance.Trailer)
	assert.Equal(t, 14, trailer.Days)
	assert.True(t, decimal.NewFromInt(21000).Equal(trailer.Amount))
	assert.True(t, decimal.NewFromInt(21000).Equal(s.AllowanceTotal()))
	assert.True(t, s.IsFinal())
	assert.Equal(t, allowance.BaselineNone, s.Provenance().Baseline)
	assert.Len(t, s.Provenance().NextVersions, 2)
	assert.Equal(t, "42/2025-12", s.Key())
}

func TestBuild_RejectsMoreDaysThanTheMonth(t *testing.T) {
	p := params()
	p.Allowance = resultFor(31, true)
	p.Allowance.Counts[allowance.Trailer] = allowance.Count{Days: 32}

	_, err := summary.Build(p)
	assert.ErrorIs(t, err, summary.ErrInvalidSummary)
}

func TestBuild_RejectsForeignParts(t *testing.T) {
	p := params()
	p.Allowance.DriverID = 7
	_, err := summary.Build(p)
	assert.ErrorIs(t, err, summary.ErrInvalidSummary)

	p = params()
	p.Days[0].Date = calendar.NewDate(2025, time.November, 30)
	_, err = summary.Build(p)
	assert.ErrorIs(t, err, summary.ErrInvalidSummary)
}

func TestSummary_ProvisionalFigureMakesSummaryProvisional(t *testing.T) {
	p := params()
	p.Allowance = resultFor(3, false)

	s, err := summary.Build(p)
	require.NoError(t, err)
	assert.False(t, s.IsFinal())
	assert.False(t, s.Allowance(allowance.Trailer).Final)
}

func TestSummary_AccessorsReturnCopies(t *testing.T) {
	// GIVEN: A built summary
	s, err := summary.Build(params())
	require.NoError(t, err)
	before, err := s.Fingerprint()
	require.NoError(t, err)

	// WHEN: A caller edits what the accessors returned
	days := s.Days()
	days[0].Restraint = 0
	days[0].Shifts[0].In = time.Time{}
	fig := s.Allowance(allowance.Trailer)
	fig.Dates[0] = calendar.NewDate(2030, time.January, 1)
	prov := s.Provenance()
	prov.NextVersions[allowance.Trailer] = "tampered"

	// THEN: The summary is unchanged
	after, err := s.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 9*time.Hour, s.Days()[0].Restraint)
	assert.Equal(t, time.Date(2025, time.December, 3, 6, 0, 0, 0, time.UTC), s.Days()[0].Shifts[0].In)
}

func TestBuild_InputsAreCopied(t *testing.T) {
	p := params()
	s, err := summary.Build(p)
	require.NoError(t, err)

	p.Days[0].Restraint = time.Minute
	p.Allowance.Counts[allowance.Trailer].Dates[0] = calendar.NewDate(2030, time.January, 1)

	assert.Equal(t, 9*time.Hour, s.Days()[0].Restraint)
	assert.Equal(t, calendar.NewDate(2025, time.December, 1), s.Allowance(allowance.Trailer).Dates[0])
}

// =============================================================================
// IDEMPOTENCE
// =============================================================================

func TestSummary_SameInputsGiveIdenticalBytes(t *testing.T) {
	a, err := summary.Build(params())
	require.NoError(t, err)
	b, err := summary.Build(params())
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ja, jb)

	fa, _ := a.Fingerprint()
	fb, _ := b.Fingerprint()
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)
}

func TestSummary_FingerprintChangesWithContent(t *testing.T) {
	a, err := summary.Build(params())
	require.NoError(t, err)

	p := params()
	p.Allowance = resultFor(13, true)
	b, err := summary.Build(p)
	require.NoError(t, err)

	fa, _ := a.Fingerprint()
	fb, _ := b.Fingerprint()
	assert.NotEqual(t, fa, fb)
}

func TestSummary_JSONShape(t *testing.T) {
	s, err := summary.Build(params())
	require.NoError(t, err)

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2025-12", decoded["month"])
	assert.Equal(t, "21000", decoded["allowance_total"])

	totals := decoded["totals"].(map[string]any)
	assert.Equal(t, float64(540), totals["restraint_minutes"])
	assert.Equal(t, "09:00", totals["restraint"])

	figures := decoded["allowances"].([]any)
	require.Len(t, figures, 2)
	assert.Equal(t, "livestock", figures[0].(map[string]any)["type"])
}

func TestDigest_IgnoresOrder(t *testing.T) {
	end := time.Date(2025, time.December, 3, 18, 0, 0, 0, time.UTC)
	events := []attendance.ShiftEvent{
		{DriverID: 42, At: time.Date(2025, time.December, 3, 8, 0, 0, 0, time.UTC), Kind: attendance.ClockIn},
		{DriverID: 42, At: end, Kind: attendance.ClockOut},
	}
	ops := []allowance.Operation{{
		Key:      allowance.OperationKey{No: "A", CrewRole: 1},
		DriverID: 42,
		Start:    events[0].At,
		End:      &end,
	}}

	a := summary.Digest(events, ops)
	b := summary.Digest([]attendance.ShiftEvent{events[1], events[0]}, ops)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, summary.Digest(events[:1], ops))
}
