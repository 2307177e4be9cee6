package attendance

import (
	"fmt"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// =============================================================================
// MONTHLY TOTALS
// =============================================================================

// OvertimeConfig sets the thresholds used for overtime and long-restraint days.
type OvertimeConfig struct {
	DailyStandard      time.Duration
	LongRestraintLimit time.Duration
}

func DefaultOvertimeConfig() OvertimeConfig {
	return OvertimeConfig{
		DailyStandard:      8 * time.Hour,
		LongRestraintLimit: 13 * time.Hour,
	}
}

// Totals are the monthly figures for one driver.
// Restraint is exactly the sum of the daily restraint of the month.
type Totals struct {
	Restraint         time.Duration
	Driving           time.Duration
	Overtime          time.Duration
	WorkedDays        int
	LongRestraintDays int
	IncompleteDays    int
}

func (t Totals) RestraintMinutes() int { return int(t.Restraint / time.Minute) }
func (t Totals) DrivingMinutes() int   { return int(t.Driving / time.Minute) }
func (t Totals) OvertimeMinutes() int  { return int(t.Overtime / time.Minute) }

// Aggregator sums DailyRecords into monthly Totals.
type Aggregator struct {
	cfg OvertimeConfig
}

func NewAggregator(cfg OvertimeConfig) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate is pure: the same records always produce the same Totals.
// Dates with no record contribute zero.
func (a *Aggregator) Aggregate(driverID int64, ym calendar.YearMonth, records []DailyRecord) (Totals, error) {
	var totals Totals
	seen := make(map[calendar.Date]struct{}, len(records))

	for _, r := range records {
		if r.DriverID != driverID || !ym.Contains(r.Date) {
			return Totals{}, fmt.Errorf("%w: driver %d date %s (want driver %d in %s)",
				ErrForeignRecord, r.DriverID, r.Date, driverID, ym)
		}
		if _, dup := seen[r.Date]; dup {
			return Totals{}, fmt.Errorf("%w: driver %d date %s", ErrDuplicateDay, driverID, r.Date)
		}
		seen[r.Date] = struct{}{}

		totals.Restraint += r.Restraint
		totals.Driving += r.Driving
		if r.Worked() {
			totals.WorkedDays++
		}
		if r.Flags.Has(FlagIncomplete) {
			totals.IncompleteDays++
		}
		if a.cfg.DailyStandard > 0 && r.Restraint > a.cfg.DailyStandard {
			totals.Overtime += r.Restraint - a.cfg.DailyStandard
		}
		if a.cfg.LongRestraintLimit > 0 && r.Restraint > a.cfg.LongRestraintLimit {
			totals.LongRestraintDays++
		}
	}
	return totals, nil
}

// FormatHHMM renders a duration as hours:minutes with at least two hour
// digits, e.g. 05:30 or 187:05. Hours are not capped at 24.
func FormatHHMM(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	mins := int64(d / time.Minute)
	s := fmt.Sprintf("%02d:%02d", mins/60, mins%60)
	if neg {
		return "-" + s
	}
	return s
}
