/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Runs:
    RunRequest, BatchReportDTO, DriverResultDTO, RunDTO

  Drivers:
    DriverDTO, DayDTO

  Continuation:
    ContinuationDTO, ContinuationStateDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

The summary itself is served as the canonical JSON the store keeps, so it
has no DTO here.

SEE ALSO:
  - handlers.go: Uses these types
  - summary/json.go: Summary wire format
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/sqlite"
)

// =============================================================================
// RUNS
// =============================================================================

// RunRequest is the body for POST /api/runs. Without a driver ID every
// driver of the month is run.
type RunRequest struct {
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	DriverID *int64 `json:"driver_id,omitempty"`
}

// DriverResultDTO is one driver's line in a batch report.
type DriverResultDTO struct {
	DriverID     int64  `json:"driver_id"`
	Saved        string `json:"saved,omitempty"`
	Final        bool   `json:"final"`
	Baseline     string `json:"baseline,omitempty"`
	LookbackDays int    `json:"lookback_days,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BatchReportDTO is the response of POST /api/runs.
type BatchReportDTO struct {
	ID          string            `json:"id"`
	Month       string            `json:"month"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Provisional int               `json:"provisional"`
	Results     []DriverResultDTO `json:"results"`
}

// RunDTO is a stored aggregation run.
type RunDTO struct {
	ID          string           `json:"id"`
	Month       string           `json:"month"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Drivers     int              `json:"drivers"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Provisional int              `json:"provisional"`
	Failures    map[int64]string `json:"failures,omitempty"`
}

// =============================================================================
// DRIVERS
// =============================================================================

type DriverDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DayDTO is one stored daily record. Restraint is formatted HH:MM for
// renderers.
type DayDTO struct {
	Date             string   `json:"date"`
	Restraint        string   `json:"restraint"`
	RestraintMinutes int      `json:"restraint_minutes"`
	DrivingMinutes   int      `json:"driving_minutes"`
	Flags            []string `json:"flags,omitempty"`
}

// =============================================================================
// CONTINUATION
// =============================================================================

// ContinuationStateDTO is one carry-over state.
type ContinuationStateDTO struct {
	Cutoff      string `json:"cutoff"`
	Active      bool   `json:"active"`
	Since       string `json:"since,omitempty"`
	Provisional bool   `json:"provisional"`
	Version     string `json:"version"`
}

// ContinuationTypeDTO compares carried and replayed state of one type.
type ContinuationTypeDTO struct {
	Type      string                `json:"type"`
	Carried   *ContinuationStateDTO `json:"carried"`
	Replayed  ContinuationStateDTO  `json:"replayed"`
	Match     bool                  `json:"match"`
	Truncated bool                  `json:"truncated,omitempty"` // start taken from the carried state
}

// ContinuationDTO is the response of GET /api/drivers/{id}/continuation/{month}.
type ContinuationDTO struct {
	DriverID   int64                 `json:"driver_id"`
	Month      string                `json:"month"`
	Consistent bool                  `json:"consistent"`
	Types      []ContinuationTypeDTO `json:"types"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a regression fixture.
type ScenarioDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Months      []string `json:"months"`
}

// LoadScenarioRequest is the body for POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBatchReportDTO(report *engine.BatchReport) BatchReportDTO {
	dto := BatchReportDTO{
		ID:          report.ID,
		Month:       report.Month.String(),
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Succeeded:   report.Succeeded(),
		Failed:      report.Failed(),
		Provisional: report.Provisional(),
		Results:     make([]DriverResultDTO, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		line := DriverResultDTO{DriverID: res.DriverID}
		if res.Err != nil {
			line.Error = res.Err.Error()
		} else if res.Outcome != nil {
			line.Saved = string(res.Outcome.Saved)
			line.Baseline = string(res.Outcome.Baseline)
			line.LookbackDays = res.Outcome.LookbackDays
			line.Final = res.Outcome.Summary != nil && res.Outcome.Summary.IsFinal()
		}
		dto.Results = append(dto.Results, line)
	}
	return dto
}

func toRunDTO(r sqlite.RunRecord) RunDTO {
	return RunDTO{
		ID:          r.ID,
		Month:       r.Month.String(),
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Drivers:     r.Drivers,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Provisional: r.Provisional,
		Failures:    r.Failures,
	}
}

func toDayDTO(d attendance.DailyRecord) DayDTO {
	return DayDTO{
		Date:             d.Date.String(),
		Restraint:        attendance.FormatHHMM(d.Restraint),
		RestraintMinutes: d.RestraintMinutes(),
		DrivingMinutes:   d.DrivingMinutes(),
		Flags:            d.Flags.Names(),
	}
}

func toStateDTO(st allowance.ContinuationState) ContinuationStateDTO {
	dto := ContinuationStateDTO{
		Cutoff:      st.Cutoff.String(),
		Active:      st.Active,
		Provisional: st.Provisional,
		Version:     st.Version(),
	}
	if st.Active {
		dto.Since = st.Since.String()
	}
	return dto
}

func toContinuationDTO(check *engine.ContinuationCheck) ContinuationDTO {
	dto := ContinuationDTO{
		DriverID:   check.DriverID,
		Month:      check.Month.String(),
		Consistent: check.Consistent,
	}
	for _, t := range allowance.Types() {
		replayed := check.Replayed[t]
		line := ContinuationTypeDTO{
			Type:      string(t),
			Replayed:  toStateDTO(replayed),
			Truncated: check.Truncated[t],
		}
		if carried, ok := check.Carried[t]; ok && carried != nil {
			c := toStateDTO(*carried)
			line.Carried = &c
			line.Match = *carried == replayed
		}
		dto.Types = append(dto.Types, line)
	}
	return dto
}
