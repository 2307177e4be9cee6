/*
Package attendance turns raw clock events into daily and monthly restraint figures.

PURPOSE:
  The legacy payroll run reads punch-clock and tachograph state changes and
  derives, for each driver and date, how long the driver was under employer
  control ("restraint") and how much of that was not spent resting
  ("driving"). This package is that derivation, with no I/O.

KEY CONCEPTS IN THIS FILE (types.go):
  - ShiftEvent:  One timestamped clock event (in / out / rest start / rest end)
  - DailyRecord: The computed figures for one driver on one date
  - Flags:       Irregular patterns found while pairing events

DESIGN PRINCIPLES:
  1. Immutability: DailyRecords are values; nothing edits them after Calculate
  2. Minutes:      Every duration is truncated to whole minutes, like the legacy
  3. Soft failure: An unpaired clock-in zeroes the day, never the month

SEE ALSO:
  - restraint.go: Calculator (daily)
  - aggregate.go: Aggregator (monthly)
*/
package attendance

import (
	"strings"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// =============================================================================
// SHIFT EVENT
// =============================================================================

type EventKind string

const (
	ClockIn   EventKind = "clock_in"
	ClockOut  EventKind = "clock_out"
	RestStart EventKind = "rest_start"
	RestEnd   EventKind = "rest_end"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case ClockIn, ClockOut, RestStart, RestEnd:
		return true
	}
	return false
}

// ShiftEvent is sourced externally and never modified.
type ShiftEvent struct {
	DriverID int64
	At       time.Time
	Kind     EventKind
}

// =============================================================================
// DAILY RECORD
// =============================================================================

// Flags mark irregular event patterns.
type Flags uint8

const (
	// FlagIncomplete: a clock-in had no clock-out within the lookahead window.
	FlagIncomplete Flags = 1 << iota
	// FlagUnpairedRest: a rest-start or rest-end had no partner and was ignored.
	FlagUnpairedRest
	// FlagCrossesMidnight: the shift closed on the following date.
	FlagCrossesMidnight
	// FlagNoonBreak: the fixed noon break was deducted.
	FlagNoonBreak
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Names lists the set flags, used by DTOs and logs.
func (f Flags) Names() []string {
	var names []string
	if f.Has(FlagIncomplete) {
		names = append(names, "incomplete")
	}
	if f.Has(FlagUnpairedRest) {
		names = append(names, "unpaired_rest")
	}
	if f.Has(FlagCrossesMidnight) {
		names = append(names, "crosses_midnight")
	}
	if f.Has(FlagNoonBreak) {
		names = append(names, "noon_break")
	}
	return names
}

func (f Flags) String() string { return strings.Join(f.Names(), ",") }

// Shift is one paired clock-in / clock-out.
type Shift struct {
	In  time.Time
	Out time.Time
}

// DailyRecord holds one driver's figures for one date.
// Invariant: Restraint >= Driving >= 0.
type DailyRecord struct {
	DriverID  int64
	Date      calendar.Date
	Restraint time.Duration
	Driving   time.Duration
	Shifts    []Shift
	Flags     Flags
}

// ZeroRecord is the record of a day with nothing to count.
func ZeroRecord(driverID int64, date calendar.Date, flags Flags) DailyRecord {
	return DailyRecord{DriverID: driverID, Date: date, Flags: flags}
}

// RestraintMinutes returns restraint in whole minutes.
func (r DailyRecord) RestraintMinutes() int { return int(r.Restraint / time.Minute) }

// DrivingMinutes returns driving time in whole minutes.
func (r DailyRecord) DrivingMinutes() int { return int(r.Driving / time.Minute) }

// Worked reports whether the day has any restraint.
func (r DailyRecord) Worked() bool { return r.Restraint > 0 }
