// Package legacy holds the vocabulary and row decoding shared by the
// sources that read the legacy operations schema: store/mysql for the
// production database and store/postgres for a PostgreSQL replica of it.
package legacy

import (
	"sort"
	"time"

	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
)

// Punch-clock states in time_card_dstate.
const (
	StateClockIn  = 30
	StateClockOut = 31
)

// Vocabulary written by the legacy front office.
const (
	CategoryLivestock = "家畜車"
	CategoryTrailer   = "トレーラー"
	ApplyExcluded     = "除外"
	MarkerLivestock   = "家畜"
	MarkerTrailer     = "けん引"
)

// dayOffDetails are day-offs that are never credited allowance days.
var dayOffDetails = []string{"公休", "有休", "泊休"}

// Eligibility reports which allowance types the vehicle categories make
// operations eligible for.
func Eligibility(categoryNames []string) (livestock, trailer bool) {
	for _, name := range categoryNames {
		switch name {
		case CategoryLivestock:
			livestock = true
		case CategoryTrailer:
			trailer = true
		}
	}
	return livestock, trailer
}

// Kind maps a time_card_dstate state to an event kind.
func Kind(state int) attendance.EventKind {
	if state == StateClockOut {
		return attendance.ClockOut
	}
	return attendance.ClockIn
}

// Alternate turns manual punches into events: on each date the first is a
// clock-in, the second a clock-out, and so on.
func Alternate(driverID int64, punches []time.Time) []attendance.ShiftEvent {
	sorted := append([]time.Time(nil), punches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var (
		out  []attendance.ShiftEvent
		day  calendar.Date
		seen int
	)
	for _, t := range sorted {
		if d := calendar.DateOf(t); !d.Equal(day) {
			day, seen = d, 0
		}
		kind := attendance.ClockIn
		if seen%2 == 1 {
			kind = attendance.ClockOut
		}
		out = append(out, attendance.ShiftEvent{DriverID: driverID, At: t, Kind: kind})
		seen++
	}
	return out
}

// Details collects daily-report entries into day-offs and manual
// allowance markers.
type Details struct {
	DayOffs []calendar.Date
	Markers []allowance.Marker
}

// Add records one daily_report_other_detail row.
func (d *Details) Add(date calendar.Date, detail string) {
	if IsDayOff(detail) {
		d.DayOffs = append(d.DayOffs, date)
	}
	if t, ok := MarkerType(detail); ok {
		d.Markers = append(d.Markers, allowance.Marker{Date: date, Type: t})
	}
}

func IsDayOff(detail string) bool {
	for _, d := range dayOffDetails {
		if detail == d {
			return true
		}
	}
	return false
}

func MarkerType(detail string) (allowance.Type, bool) {
	switch detail {
	case MarkerLivestock:
		return allowance.Livestock, true
	case MarkerTrailer:
		return allowance.Trailer, true
	}
	return "", false
}

// WallClock reads the naive timestamp t as wall-clock time in loc. Both
// drivers decode timestamp columns without a zone as UTC.
func WallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}
