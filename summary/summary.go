/*
Package summary holds the finalized monthly output for one driver.

PURPOSE:
  A Summary combines the monthly restraint totals, the per-day records and
  the allowance figures, together with where they came from. It is what the
  renderer reads and what the persistence step writes.

KEY CONCEPTS:
  - Summary:    Immutable once built; only read-only accessors are exported
  - Figure:     One allowance type: day count, amount, final or provisional
  - Provenance: Which baseline and which ContinuationState versions were used

DESIGN PRINCIPLES:
  1. No setters: a correction builds a new Summary for the same period
  2. Deterministic encoding: the same inputs give byte-identical JSON, so a
     fingerprint of the encoding detects real changes

SEE ALSO:
  - json.go: canonical encoding and Fingerprint
*/
package summary

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
)

var (
	// ErrInvalidSummary is returned by Build when the parts do not fit together.
	ErrInvalidSummary = errors.New("invalid summary")
)

// =============================================================================
// FIGURE & PROVENANCE
// =============================================================================

// Figure is the allowance result for one type.
type Figure struct {
	Type   allowance.Type
	Days   int
	Rate   decimal.Decimal
	Amount decimal.Decimal
	Final  bool
	Dates  []calendar.Date
}

// Provenance records how the figures were produced.
type Provenance struct {
	Baseline allowance.Baseline
	// CarriedVersions are the versions of the states consumed, by type.
	// Missing when no claim was used.
	CarriedVersions map[allowance.Type]string
	// NextVersions are the versions of the states produced for next month.
	NextVersions map[allowance.Type]string
	// GeneratedFrom is the digest of the raw inputs.
	GeneratedFrom string
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary is one driver's month. The zero value is not usable; use Build.
type Summary struct {
	driverID   int64
	month      calendar.YearMonth
	totals     attendance.Totals
	days       []attendance.DailyRecord
	figures    map[allowance.Type]Figure
	next       map[allowance.Type]allowance.ContinuationState
	provenance Provenance
}

// Params are the inputs of Build.
type Params struct {
	DriverID int64
	Month    calendar.YearMonth
	Totals   attendance.Totals
	Days     []attendance.DailyRecord

	Allowance *allowance.Result
	Rates     allowance.Rates
	// Carried are the states the resolver was given, used for provenance.
	Carried map[allowance.Type]*allowance.ContinuationState

	SourceDigest string
}

// Build validates p and returns a new Summary. Every slice and map is copied.
func Build(p Params) (*Summary, error) {
	if !p.Month.Valid() {
		return nil, fmt.Errorf("%w: month %v", ErrInvalidSummary, p.Month)
	}
	if p.Allowance == nil {
		return nil, fmt.Errorf("%w: missing allowance result", ErrInvalidSummary)
	}
	if p.Allowance.DriverID != p.DriverID || p.Allowance.Month != p.Month {
		return nil, fmt.Errorf("%w: allowance result is for driver %d %s",
			ErrInvalidSummary, p.Allowance.DriverID, p.Allowance.Month)
	}

	days := make([]attendance.DailyRecord, len(p.Days))
	for i, d := range p.Days {
		if d.DriverID != p.DriverID || !p.Month.Contains(d.Date) {
			return nil, fmt.Errorf("%w: daily record %d/%s outside driver-month", ErrInvalidSummary, d.DriverID, d.Date)
		}
		days[i] = d
		days[i].Shifts = append([]attendance.Shift(nil), d.Shifts...)
	}

	s := &Summary{
		driverID: p.DriverID,
		month:    p.Month,
		totals:   p.Totals,
		days:     days,
		figures:  make(map[allowance.Type]Figure, len(allowance.Types())),
		next:     make(map[allowance.Type]allowance.ContinuationState, len(allowance.Types())),
		provenance: Provenance{
			Baseline:        p.Allowance.Baseline,
			CarriedVersions: make(map[allowance.Type]string),
			NextVersions:    make(map[allowance.Type]string),
			GeneratedFrom:   p.SourceDigest,
		},
	}

	for _, t := range allowance.Types() {
		count := p.Allowance.Counts[t]
		if count.Days > p.Month.Days() {
			return nil, fmt.Errorf("%w: %s has %d days, month has %d",
				ErrInvalidSummary, t, count.Days, p.Month.Days())
		}
		s.figures[t] = Figure{
			Type:   t,
			Days:   count.Days,
			Rate:   p.Rates.Rate(t),
			Amount: p.Rates.Amount(t, count.Days),
			Final:  count.Final,
			Dates:  append([]calendar.Date(nil), count.Dates...),
		}
		if next, ok := p.Allowance.Next[t]; ok {
			s.next[t] = next
			s.provenance.NextVersions[t] = next.Version()
		}
		if p.Allowance.Baseline == allowance.BaselineCarried {
			if carried := p.Carried[t]; carried != nil {
				s.provenance.CarriedVersions[t] = carried.Version()
			}
		}
	}
	return s, nil
}

func (s *Summary) DriverID() int64           { return s.driverID }
func (s *Summary) Month() calendar.YearMonth { return s.month }
func (s *Summary) Totals() attendance.Totals { return s.totals }

// Days returns a copy of the daily records.
func (s *Summary) Days() []attendance.DailyRecord {
	out := make([]attendance.DailyRecord, len(s.days))
	copy(out, s.days)
	for i := range out {
		out[i].Shifts = append([]attendance.Shift(nil), s.days[i].Shifts...)
	}
	return out
}

// Allowance returns the figure for t.
func (s *Summary) Allowance(t allowance.Type) Figure {
	f := s.figures[t]
	f.Dates = append([]calendar.Date(nil), f.Dates...)
	return f
}

// Allowances returns every figure in allowance.Types() order.
func (s *Summary) Allowances() []Figure {
	out := make([]Figure, 0, len(s.figures))
	for _, t := range allowance.Types() {
		out = append(out, s.Allowance(t))
	}
	return out
}

// Continuation returns the carry-over produced for next month.
func (s *Summary) Continuation(t allowance.Type) (allowance.ContinuationState, bool) {
	st, ok := s.next[t]
	return st, ok
}

// Continuations returns all produced carry-overs in allowance.Types() order.
func (s *Summary) Continuations() []allowance.ContinuationState {
	out := make([]allowance.ContinuationState, 0, len(s.next))
	for _, t := range allowance.Types() {
		if st, ok := s.next[t]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (s *Summary) Provenance() Provenance {
	p := s.provenance
	p.CarriedVersions = copyVersions(s.provenance.CarriedVersions)
	p.NextVersions = copyVersions(s.provenance.NextVersions)
	return p
}

// IsFinal reports whether every allowance figure is final.
func (s *Summary) IsFinal() bool {
	for _, f := range s.figures {
		if !f.Final {
			return false
		}
	}
	return true
}

// AllowanceTotal is the sum of all allowance amounts.
func (s *Summary) AllowanceTotal() decimal.Decimal {
	total := decimal.Zero
	for _, t := range allowance.Types() {
		total = total.Add(s.figures[t].Amount)
	}
	return total
}

func copyVersions(in map[allowance.Type]string) map[allowance.Type]string {
	out := make(map[allowance.Type]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
