/*
scenarios.go - Regression fixtures

PURPOSE:
  Seeds the SQLite store with small, known driver histories and computes
  their months, so the read model can be inspected through the API and the
  figures compared with payroll by hand.

SCENARIOS:
  boundary        One trailer operation from 2025-11-30 23:10 to
                  2025-12-01 02:40. November and December get one day each.
  december-14     Fourteen daily trailer operations in December 2025.
                  December gets fourteen days.
  incomplete-day  A clock-in with no clock-out on 2025-12-02. That day is
                  zero and flagged; the rest of the month is intact.
  day-off         A five-day livestock operation across a public holiday,
                  plus a manual trailer marker.

Loading always resets the database first.

SEE ALSO:
  - handlers.go: Scenario endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/engine"
)

// jst is the zone fixture timestamps are written in.
var jst = time.FixedZone("JST", 9*60*60)

var december2025 = calendar.YearMonth{Year: 2025, Month: time.December}

// Fixture drivers.
const (
	boundaryDriver   = int64(42)
	fourteenDriver   = int64(43)
	incompleteDriver = int64(44)
	dayOffDriver     = int64(45)
)

// scenario seeds raw records; the listed months are then computed for the
// listed drivers in order.
type scenario struct {
	ScenarioDTO
	drivers []int64
	seed    func(h *Handler, ctx context.Context) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "boundary",
			Name:        "Month Boundary",
			Description: "Trailer operation 2025-11-30 23:10 to 2025-12-01 02:40, one day in each month",
			Months:      []string{"2025-11", "2025-12"},
		},
		drivers: []int64{boundaryDriver},
		seed:    (*Handler).seedBoundary,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "december-14",
			Name:        "Fourteen Operations",
			Description: "Fourteen daily trailer operations from 2025-12-01, fourteen allowance days",
			Months:      []string{"2025-12"},
		},
		drivers: []int64{fourteenDriver},
		seed:    (*Handler).seedFourteen,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "incomplete-day",
			Name:        "Missing Clock-Out",
			Description: "Clock-in without clock-out on 2025-12-02, that day is zero and flagged",
			Months:      []string{"2025-12"},
		},
		drivers: []int64{incompleteDriver},
		seed:    (*Handler).seedIncomplete,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "day-off",
			Name:        "Holiday Inside a Run",
			Description: "Livestock operation 2025-12-01 to 12-05 with a public holiday on 12-03 and a trailer marker on 12-10",
			Months:      []string{"2025-12"},
		},
		drivers: []int64{dayOffDriver},
		seed:    (*Handler).seedDayOff,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// SCENARIO ENDPOINTS
// =============================================================================

// ListScenarios returns all available fixtures.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dtos = append(dtos, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the loaded fixture, or null.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the database, seeds a fixture and computes its months.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.ExternalSource {
		writeError(w, http.StatusConflict, "Scenarios need the sqlite source", nil)
		return
	}

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadScenario(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = s.ID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.ExternalSource {
		writeError(w, http.StatusConflict, "Scenarios need the sqlite source", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// SeedDefault loads the first scenario when the store holds no drivers.
// Used at startup.
func (h *Handler) SeedDefault(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	drivers, err := h.Store.Drivers(ctx, december2025)
	if err != nil {
		return err
	}
	if len(drivers) > 0 {
		return nil
	}
	if err := h.loadScenario(ctx, scenarios[0]); err != nil {
		return err
	}
	h.currentScenario = scenarios[0].ID
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if h.Cache != nil {
		h.Cache.Purge()
	}
	h.currentScenario = ""
	return nil
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := s.seed(h, ctx); err != nil {
		return err
	}

	months := make([]calendar.YearMonth, 0, len(s.Months))
	for _, m := range s.Months {
		ym, err := calendar.ParseYearMonth(m)
		if err != nil {
			return err
		}
		months = append(months, ym)
	}
	for _, id := range s.drivers {
		if _, err := h.Pipeline.RunChain(ctx, id, months[0], months[len(months)-1]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func at(month time.Month, day, hour, min int) time.Time {
	return time.Date(2025, month, day, hour, min, 0, 0, jst)
}

func fixtureOp(driverID int64, no string, start, end time.Time) allowance.Operation {
	return allowance.Operation{
		Key:      allowance.OperationKey{No: no, CrewRole: 1},
		DriverID: driverID,
		Start:    start,
		End:      &end,
	}
}

func workday(driverID int64, in, out time.Time) []attendance.ShiftEvent {
	return []attendance.ShiftEvent{
		{DriverID: driverID, At: in, Kind: attendance.ClockIn},
		{DriverID: driverID, At: out, Kind: attendance.ClockOut},
	}
}

func (h *Handler) seedBoundary(ctx context.Context) error {
	if err := h.Store.SaveDriver(ctx, engine.Driver{ID: boundaryDriver, Name: "Boundary Driver"}); err != nil {
		return err
	}
	op := fixtureOp(boundaryDriver, "B1130", at(time.November, 30, 23, 10), at(time.December, 1, 2, 40))
	op.Trailer = true
	if err := h.Store.SaveOperations(ctx, op); err != nil {
		return err
	}
	return h.Store.AddEvents(ctx, workday(boundaryDriver, at(time.November, 30, 23, 0), at(time.December, 1, 3, 0))...)
}

func (h *Handler) seedFourteen(ctx context.Context) error {
	if err := h.Store.SaveDriver(ctx, engine.Driver{ID: fourteenDriver, Name: "Fourteen Days"}); err != nil {
		return err
	}
	var (
		ops    []allowance.Operation
		events []attendance.ShiftEvent
	)
	for day := 1; day <= 14; day++ {
		op := fixtureOp(fourteenDriver, fmt.Sprintf("D12%02d", day), at(time.December, day, 6, 0), at(time.December, day, 15, 0))
		op.Trailer = true
		ops = append(ops, op)
		events = append(events, workday(fourteenDriver, at(time.December, day, 5, 45), at(time.December, day, 15, 30))...)
	}
	if err := h.Store.SaveOperations(ctx, ops...); err != nil {
		return err
	}
	return h.Store.AddEvents(ctx, events...)
}

func (h *Handler) seedIncomplete(ctx context.Context) error {
	if err := h.Store.SaveDriver(ctx, engine.Driver{ID: incompleteDriver, Name: "Missing Punch"}); err != nil {
		return err
	}
	events := workday(incompleteDriver, at(time.December, 1, 6, 0), at(time.December, 1, 11, 30))
	events = append(events, attendance.ShiftEvent{DriverID: incompleteDriver, At: at(time.December, 2, 6, 0), Kind: attendance.ClockIn})
	events = append(events, workday(incompleteDriver, at(time.December, 3, 6, 0), at(time.December, 3, 11, 0))...)
	return h.Store.AddEvents(ctx, events...)
}

func (h *Handler) seedDayOff(ctx context.Context) error {
	if err := h.Store.SaveDriver(ctx, engine.Driver{ID: dayOffDriver, Name: "Holiday Run"}); err != nil {
		return err
	}
	op := fixtureOp(dayOffDriver, "L1201", at(time.December, 1, 6, 0), at(time.December, 5, 18, 0))
	op.Livestock = true
	if err := h.Store.SaveOperations(ctx, op); err != nil {
		return err
	}
	if err := h.Store.AddDayOffs(ctx, dayOffDriver, calendar.NewDate(2025, time.December, 3)); err != nil {
		return err
	}
	return h.Store.AddMarkers(ctx, dayOffDriver, allowance.Marker{
		Date: calendar.NewDate(2025, time.December, 10),
		Type: allowance.Trailer,
	})
}
