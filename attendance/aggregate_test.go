package attendance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
)

var december = calendar.YearMonth{Year: 2025, Month: time.December}

func dayRecord(day int, restraint, driving time.Duration) attendance.DailyRecord {
	return attendance.DailyRecord{
		DriverID:  driver,
		Date:      calendar.NewDate(2025, time.December, day),
		Restraint: restraint,
		Driving:   driving,
	}
}

// =============================================================================
// SUM PROPERTY
// =============================================================================

func TestAggregate_RestraintIsExactSumOfDays(t *testing.T) {
	// GIVEN: Records with uneven minute values
	records := []attendance.DailyRecord{
		dayRecord(1, 9*time.Hour+17*time.Minute, 8*time.Hour),
		dayRecord(2, 14*time.Hour+1*time.Minute, 12*time.Hour),
		dayRecord(3, 0, 0),
		dayRecord(20, 7*time.Hour+59*time.Minute, 7*time.Hour),
	}

	// WHEN
	totals, err := attendance.NewAggregator(attendance.DefaultOvertimeConfig()).Aggregate(driver, december, records)
	require.NoError(t, err)

	// THEN
	var want time.Duration
	for _, r := range records {
		want += r.Restraint
	}
	assert.Equal(t, want, totals.Restraint)
	assert.Equal(t, 31*60+17, totals.RestraintMinutes())
	assert.Equal(t, 27*time.Hour, totals.Driving)
	assert.Equal(t, 3, totals.WorkedDays)
}

func TestAggregate_OvertimeAndLongRestraint(t *testing.T) {
	records := []attendance.DailyRecord{
		dayRecord(1, 9*time.Hour, 8*time.Hour),
		dayRecord(2, 14*time.Hour, 12*time.Hour),
		dayRecord(3, 7*time.Hour, 7*time.Hour),
	}

	totals, err := attendance.NewAggregator(attendance.DefaultOvertimeConfig()).Aggregate(driver, december, records)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Hour, totals.Overtime)
	assert.Equal(t, 1, totals.LongRestraintDays)
}

func TestAggregate_EmptyMonthIsZero(t *testing.T) {
	totals, err := attendance.NewAggregator(attendance.DefaultOvertimeConfig()).Aggregate(driver, december, nil)
	require.NoError(t, err)
	assert.Equal(t, attendance.Totals{}, totals)
}

func TestAggregate_IsDeterministic(t *testing.T) {
	records := []attendance.DailyRecord{
		dayRecord(4, 10*time.Hour, 9*time.Hour),
		dayRecord(2, 11*time.Hour, 9*time.Hour),
	}
	agg := attendance.NewAggregator(attendance.DefaultOvertimeConfig())

	a, err := agg.Aggregate(driver, december, records)
	require.NoError(t, err)
	b, err := agg.Aggregate(driver, december, []attendance.DailyRecord{records[1], records[0]})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// =============================================================================
// REJECTED INPUT
// =============================================================================

func TestAggregate_RejectsForeignDriver(t *testing.T) {
	r := dayRecord(1, time.Hour, time.Hour)
	r.DriverID = 7

	_, err := attendance.NewAggregator(attendance.DefaultOvertimeConfig()).Aggregate(driver, december, []attendance.DailyRecord{r})
	assert.ErrorIs(t, err, attendance.ErrForeignRecord)
}

func TestAggregate_RejectsForeignMonth(t *testing.T) {
	r := dayRecord(1, time.Hour, time.Hour)
	r.Date = calendar.NewDate(2025, time.November, 30)

	_, err := attendance.NewAggregator(attendance.DefaultOvertimeConfig()).Aggregate(driver, december, []attendance.DailyRecord{r})
	assert.ErrorIs(t, err, attendance.ErrForeignRecord)
}

func TestAggregate_RejectsDuplicateDate(t *testing.T) {
	records := []attendance.DailyRecord{
		dayRecord(5, time.Hour, time.Hour),
		dayRecord(5, 2*time.Hour, time.Hour),
	}

	_, err := attendance.NewAggregator(attendance.DefaultOvertimeConfig()).Aggregate(driver, december, records)
	assert.ErrorIs(t, err, attendance.ErrDuplicateDay)
}

func TestFormatHHMM(t *testing.T) {
	assert.Equal(t, "00:00", attendance.FormatHHMM(0))
	assert.Equal(t, "05:30", attendance.FormatHHMM(5*time.Hour+30*time.Minute))
	assert.Equal(t, "08:05", attendance.FormatHHMM(8*time.Hour+5*time.Minute))
	assert.Equal(t, "187:30", attendance.FormatHHMM(187*time.Hour+30*time.Minute+40*time.Second))
	assert.Equal(t, "-01:15", attendance.FormatHHMM(-75*time.Minute))
}
