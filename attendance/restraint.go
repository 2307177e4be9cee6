package attendance

import (
	"sort"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

const (
	// DefaultMinRestDeduction is the shortest rest that releases the driver
	// from restraint. Shorter rests stay inside restraint but not driving.
	DefaultMinRestDeduction = 30 * time.Minute

	// DefaultLookaheadWindow bounds how long after a clock-in the matching
	// clock-out may appear on the following date.
	DefaultLookaheadWindow = 24 * time.Hour

	noonBreakStartHour = 12
	noonBreakEndHour   = 13
)

// CalculatorConfig tunes the daily calculation.
type CalculatorConfig struct {
	MinRestDeduction time.Duration
	LookaheadWindow  time.Duration

	// NoonBreak deducts 12:00-13:00 from same-day shifts that carry no
	// explicit rest events.
	NoonBreak bool
}

// DefaultCalculatorConfig matches the legacy punch-clock computation.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		MinRestDeduction: DefaultMinRestDeduction,
		LookaheadWindow:  DefaultLookaheadWindow,
		NoonBreak:        true,
	}
}

// Calculator converts clock events into DailyRecords.
type Calculator struct {
	cfg CalculatorConfig
}

func NewCalculator(cfg CalculatorConfig) *Calculator {
	if cfg.LookaheadWindow <= 0 {
		cfg.LookaheadWindow = DefaultLookaheadWindow
	}
	if cfg.MinRestDeduction < 0 {
		cfg.MinRestDeduction = 0
	}
	return &Calculator{cfg: cfg}
}

type interval struct {
	from, to time.Time
}

func (i interval) length() time.Duration { return i.to.Sub(i.from) }

// Calculate produces the record for one driver-date.
//
// dayEvents are the events whose timestamp falls on date; lookahead are the
// events of the following date, used only to close a shift that crosses
// midnight. Events that precede the first clock-in of the day belong to the
// previous date's shift and are skipped.
//
// When a clock-in cannot be closed, Calculate returns a zero record flagged
// FlagIncomplete together with an *IncompleteShiftDataError.
func (c *Calculator) Calculate(driverID int64, date calendar.Date, dayEvents, lookahead []ShiftEvent) (DailyRecord, error) {
	events := sortedEvents(dayEvents)

	var (
		shifts   []Shift
		rests    []interval
		flags    Flags
		open     bool
		openedAt time.Time
		restAt   *time.Time
	)

	started := false
	for _, ev := range events {
		if !started {
			if ev.Kind != ClockIn {
				continue
			}
			started = true
		}
		switch ev.Kind {
		case ClockIn:
			if open {
				// Second clock-in without a clock-out; keep the first.
				continue
			}
			open, openedAt = true, ev.At
		case ClockOut:
			if open {
				shifts = append(shifts, Shift{In: openedAt, Out: ev.At})
				open = false
			}
		case RestStart, RestEnd:
			restAt, rests, flags = trackRest(ev, restAt, rests, flags)
		}
	}

	if open {
		for _, ev := range sortedEvents(lookahead) {
			if ev.Kind == ClockIn {
				break
			}
			if ev.Kind == ClockOut {
				if ev.At.Sub(openedAt) <= c.cfg.LookaheadWindow {
					shifts = append(shifts, Shift{In: openedAt, Out: ev.At})
					flags |= FlagCrossesMidnight
					open = false
				}
				break
			}
			restAt, rests, flags = trackRest(ev, restAt, rests, flags)
		}
	}

	if open {
		return ZeroRecord(driverID, date, flags|FlagIncomplete), &IncompleteShiftDataError{
			DriverID: driverID,
			Date:     date,
			ClockIn:  openedAt,
		}
	}
	if restAt != nil {
		flags |= FlagUnpairedRest
	}
	if len(shifts) == 0 {
		return ZeroRecord(driverID, date, flags), nil
	}

	first, last := shifts[0].In, shifts[len(shifts)-1].Out
	span := last.Sub(first)

	// Off-duty gaps between shifts count as rests.
	for i := 1; i < len(shifts); i++ {
		if shifts[i].In.After(shifts[i-1].Out) {
			rests = append(rests, interval{from: shifts[i-1].Out, to: shifts[i].In})
		}
	}
	explicitRests := len(rests) > 0

	var deducted, allRest time.Duration
	for _, r := range mergeWithin(rests, first, last) {
		allRest += r.length()
		if r.length() >= c.cfg.MinRestDeduction {
			deducted += r.length()
		}
	}

	if c.cfg.NoonBreak && !explicitRests {
		for _, s := range shifts {
			if calendar.DateOf(s.In) != calendar.DateOf(s.Out) {
				continue
			}
			if overlap := noonOverlap(s); overlap > 0 {
				deducted += overlap
				allRest += overlap
				flags |= FlagNoonBreak
			}
		}
	}

	return DailyRecord{
		DriverID:  driverID,
		Date:      date,
		Restraint: (span - deducted).Truncate(time.Minute),
		Driving:   (span - allRest).Truncate(time.Minute),
		Shifts:    shifts,
		Flags:     flags,
	}, nil
}

// CalculateMonth computes one record per date of ym. Days without events are
// zero records. Incomplete days are returned as flagged zero records and
// their errors are collected, never fatal.
func (c *Calculator) CalculateMonth(driverID int64, ym calendar.YearMonth, events []ShiftEvent) ([]DailyRecord, []error) {
	byDate := make(map[calendar.Date][]ShiftEvent)
	for _, ev := range events {
		if ev.DriverID != driverID || !ev.Kind.Valid() {
			continue
		}
		d := calendar.DateOf(ev.At)
		byDate[d] = append(byDate[d], ev)
	}

	records := make([]DailyRecord, 0, ym.Days())
	var errs []error
	for _, d := range ym.Range().Days() {
		rec, err := c.Calculate(driverID, d, byDate[d], byDate[d.AddDays(1)])
		if err != nil {
			errs = append(errs, err)
		}
		records = append(records, rec)
	}
	return records, errs
}

func trackRest(ev ShiftEvent, restAt *time.Time, rests []interval, flags Flags) (*time.Time, []interval, Flags) {
	switch ev.Kind {
	case RestStart:
		if restAt != nil {
			flags |= FlagUnpairedRest
		}
		at := ev.At
		return &at, rests, flags
	case RestEnd:
		if restAt == nil {
			return nil, rests, flags | FlagUnpairedRest
		}
		if ev.At.After(*restAt) {
			rests = append(rests, interval{from: *restAt, to: ev.At})
		}
		return nil, rests, flags
	}
	return restAt, rests, flags
}

// mergeWithin clips intervals to [lo, hi] and merges overlaps so no minute
// is subtracted twice.
func mergeWithin(in []interval, lo, hi time.Time) []interval {
	clipped := make([]interval, 0, len(in))
	for _, r := range in {
		if r.from.Before(lo) {
			r.from = lo
		}
		if r.to.After(hi) {
			r.to = hi
		}
		if r.to.After(r.from) {
			clipped = append(clipped, r)
		}
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].from.Before(clipped[j].from) })

	var out []interval
	for _, r := range clipped {
		if n := len(out); n > 0 && !r.from.After(out[n-1].to) {
			if r.to.After(out[n-1].to) {
				out[n-1].to = r.to
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func noonOverlap(s Shift) time.Duration {
	y, m, d := s.In.Date()
	noonStart := time.Date(y, m, d, noonBreakStartHour, 0, 0, 0, s.In.Location())
	noonEnd := time.Date(y, m, d, noonBreakEndHour, 0, 0, 0, s.In.Location())

	from, to := s.In, s.Out
	if noonStart.After(from) {
		from = noonStart
	}
	if noonEnd.Before(to) {
		to = noonEnd
	}
	if !to.After(from) {
		return 0
	}
	return to.Sub(from)
}

func sortedEvents(events []ShiftEvent) []ShiftEvent {
	out := make([]ShiftEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
