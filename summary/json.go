package summary

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// CANONICAL ENCODING
// =============================================================================
//
// Field order is fixed by the structs below, slices are in date or type order
// and maps are encoded with sorted keys, so equal summaries encode to the same
// bytes. Durations are whole minutes; money is a decimal string.

type jsonSummary struct {
	DriverID       int64          `json:"driver_id"`
	Month          string         `json:"month"`
	Final          bool           `json:"final"`
	Totals         jsonTotals     `json:"totals"`
	Allowances     []jsonFigure   `json:"allowances"`
	AllowanceTotal string         `json:"allowance_total"`
	Days           []jsonDay      `json:"days"`
	Next           []jsonState    `json:"next"`
	Provenance     jsonProvenance `json:"provenance"`
}

type jsonTotals struct {
	RestraintMinutes  int    `json:"restraint_minutes"`
	Restraint         string `json:"restraint"`
	DrivingMinutes    int    `json:"driving_minutes"`
	OvertimeMinutes   int    `json:"overtime_minutes"`
	WorkedDays        int    `json:"worked_days"`
	LongRestraintDays int    `json:"long_restraint_days"`
	IncompleteDays    int    `json:"incomplete_days"`
}

type jsonFigure struct {
	Type   string   `json:"type"`
	Days   int      `json:"days"`
	Rate   string   `json:"rate"`
	Amount string   `json:"amount"`
	Final  bool     `json:"final"`
	Dates  []string `json:"dates"`
}

type jsonDay struct {
	Date             string   `json:"date"`
	RestraintMinutes int      `json:"restraint_minutes"`
	DrivingMinutes   int      `json:"driving_minutes"`
	Flags            []string `json:"flags,omitempty"`
}

type jsonState struct {
	Type        string `json:"type"`
	Cutoff      string `json:"cutoff"`
	Active      bool   `json:"active"`
	Since       string `json:"since,omitempty"`
	Provisional bool   `json:"provisional"`
	Version     string `json:"version"`
}

type jsonProvenance struct {
	Baseline        string            `json:"baseline"`
	CarriedVersions map[string]string `json:"carried_versions"`
	NextVersions    map[string]string `json:"next_versions"`
	GeneratedFrom   string            `json:"generated_from"`
}

// MarshalJSON encodes the summary canonically.
func (s *Summary) MarshalJSON() ([]byte, error) {
	out := jsonSummary{
		DriverID: s.driverID,
		Month:    s.month.String(),
		Totals: jsonTotals{
			RestraintMinutes:  s.totals.RestraintMinutes(),
			Restraint:         attendance.FormatHHMM(s.totals.Restraint),
			DrivingMinutes:    s.totals.DrivingMinutes(),
			OvertimeMinutes:   s.totals.OvertimeMinutes(),
			WorkedDays:        s.totals.WorkedDays,
			LongRestraintDays: s.totals.LongRestraintDays,
			IncompleteDays:    s.totals.IncompleteDays,
		},
		Allowances:     make([]jsonFigure, 0, len(s.figures)),
		AllowanceTotal: s.AllowanceTotal().String(),
		Days:           make([]jsonDay, 0, len(s.days)),
		Next:           make([]jsonState, 0, len(s.next)),
		Final:          s.IsFinal(),
		Provenance: jsonProvenance{
			Baseline:        string(s.provenance.Baseline),
			CarriedVersions: stringKeys(s.provenance.CarriedVersions),
			NextVersions:    stringKeys(s.provenance.NextVersions),
			GeneratedFrom:   s.provenance.GeneratedFrom,
		},
	}

	for _, f := range s.Allowances() {
		dates := make([]string, len(f.Dates))
		for i, d := range f.Dates {
			dates[i] = d.String()
		}
		out.Allowances = append(out.Allowances, jsonFigure{
			Type:   string(f.Type),
			Days:   f.Days,
			Rate:   f.Rate.String(),
			Amount: f.Amount.String(),
			Final:  f.Final,
			Dates:  dates,
		})
	}

	days := s.Days()
	sort.SliceStable(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	for _, d := range days {
		out.Days = append(out.Days, jsonDay{
			Date:             d.Date.String(),
			RestraintMinutes: d.RestraintMinutes(),
			DrivingMinutes:   d.DrivingMinutes(),
			Flags:            d.Flags.Names(),
		})
	}

	for _, st := range s.Continuations() {
		js := jsonState{
			Type:        string(st.Type),
			Cutoff:      st.Cutoff.String(),
			Active:      st.Active,
			Provisional: st.Provisional,
			Version:     st.Version(),
		}
		if st.Active {
			js.Since = st.Since.String()
		}
		out.Next = append(out.Next, js)
	}

	return json.Marshal(out)
}

// Fingerprint is the hex sha256 of the canonical encoding.
func (s *Summary) Fingerprint() (string, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Key identifies the summary's period, e.g. "42/2025-12".
func (s *Summary) Key() string {
	return fmt.Sprintf("%d/%s", s.driverID, s.month)
}

func stringKeys(in map[allowance.Type]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

// =============================================================================
// SOURCE DIGEST
// =============================================================================

// Digest fingerprints the raw inputs of a driver-month so a summary can say
// what it was generated from. Input order does not matter.
func Digest(events []attendance.ShiftEvent, ops []allowance.Operation) string {
	lines := make([]string, 0, len(events)+len(ops))
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("e|%d|%s|%s", ev.DriverID, ev.At.UTC().Format(time.RFC3339Nano), ev.Kind))
	}
	for _, op := range ops {
		end := "open"
		if op.End != nil {
			end = op.End.UTC().Format(time.RFC3339Nano)
		}
		lines = append(lines, fmt.Sprintf("o|%d|%s|%s|%s|%t|%t|%t",
			op.DriverID, op.Key, op.Start.UTC().Format(time.RFC3339Nano), end,
			op.Livestock, op.Trailer, op.Excluded))
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
