/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the driver-month pipeline and its read model via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  engine.Pipeline for computation and to the SQLite store for reads.

ENDPOINTS:
  Runs:
    POST   /api/runs                                  Run a month (all drivers or one)
    GET    /api/runs                                  Recent aggregation runs

  Drivers:
    GET    /api/drivers                               List drivers
    GET    /api/drivers/{id}/summaries/{month}        Stored summary JSON
    GET    /api/drivers/{id}/summaries/{month}/days   Stored daily records
    GET    /api/drivers/{id}/continuation/{month}     Carried vs replayed state

  Scenarios:
    GET    /api/scenarios                             List regression fixtures
    GET    /api/scenarios/current                     Loaded fixture
    POST   /api/scenarios/load                        Load a fixture
    POST   /api/scenarios/reset                       Clear all data

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid path parameters or body
  - 404: No summary stored for the period
  - 409: Scenarios requested while reading from the legacy database
  - 422: The driver-month could not be computed
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Fixture loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Pipeline *engine.Pipeline
	// Cache is purged when the database is reset. Optional.
	Cache *engine.CachedStates
	// ExternalSource is set when raw records come from the legacy database;
	// scenarios then cannot seed them.
	ExternalSource bool

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(store *sqlite.Store, pipeline *engine.Pipeline) *Handler {
	return &Handler{Store: store, Pipeline: pipeline}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health pings the database.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RUN ENDPOINTS
// =============================================================================

// TriggerRun computes one month for every driver, or for the one given.
// POST /api/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ym := calendar.YearMonth{Year: req.Year, Month: time.Month(req.Month)}
	if !ym.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid year or month", nil)
		return
	}

	var drivers []int64
	if req.DriverID != nil {
		drivers = append(drivers, *req.DriverID)
	}

	report, err := h.Pipeline.RunMonth(r.Context(), ym, drivers...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run month", err)
		return
	}

	// A single requested driver that failed is reported as such.
	if req.DriverID != nil && report.Failed() == 1 {
		writeError(w, http.StatusUnprocessableEntity, "Driver-month could not be computed", report.Results[0].Err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchReportDTO(report))
}

// ListRuns returns recent aggregation runs, newest first.
// GET /api/runs?limit=20
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DRIVER ENDPOINTS
// =============================================================================

// ListDrivers returns the drivers known to the store.
// GET /api/drivers?month=2025-12
func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	ym := calendar.DateOf(time.Now()).YearMonth()
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := calendar.ParseYearMonth(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month, expected YYYY-MM", err)
			return
		}
		ym = parsed
	}

	drivers, err := h.Store.Drivers(r.Context(), ym)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list drivers", err)
		return
	}

	dtos := make([]DriverDTO, 0, len(drivers))
	for _, d := range drivers {
		dtos = append(dtos, DriverDTO{ID: d.ID, Name: d.Name})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns the stored summary of a driver-month as computed.
// GET /api/drivers/{id}/summaries/{month}
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	driverID, ym, ok := periodParams(w, r)
	if !ok {
		return
	}

	body, err := h.Store.SummaryJSON(r.Context(), driverID, ym)
	if errors.Is(err, engine.ErrNoSummary) {
		writeError(w, http.StatusNotFound, "Summary not found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load summary", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// GetDays returns the stored daily records of a driver-month.
// GET /api/drivers/{id}/summaries/{month}/days
func (h *Handler) GetDays(w http.ResponseWriter, r *http.Request) {
	driverID, ym, ok := periodParams(w, r)
	if !ok {
		return
	}

	days, err := h.Store.Days(r.Context(), driverID, ym)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load days", err)
		return
	}
	if len(days) == 0 {
		writeError(w, http.StatusNotFound, "Summary not found", nil)
		return
	}

	dtos := make([]DayDTO, 0, len(days))
	for _, d := range days {
		dtos = append(dtos, toDayDTO(d))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CheckContinuation replays a month's carry-over from raw operations and
// compares it with the stored one.
// GET /api/drivers/{id}/continuation/{month}
func (h *Handler) CheckContinuation(w http.ResponseWriter, r *http.Request) {
	driverID, ym, ok := periodParams(w, r)
	if !ok {
		return
	}

	check, err := h.Pipeline.CheckContinuation(r.Context(), driverID, ym)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check continuation", err)
		return
	}
	writeJSON(w, http.StatusOK, toContinuationDTO(check))
}

// =============================================================================
// HELPERS
// =============================================================================

// periodParams parses {id} and {month}. On failure it has already written
// the response.
func periodParams(w http.ResponseWriter, r *http.Request) (int64, calendar.YearMonth, bool) {
	driverID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid driver ID", err)
		return 0, calendar.YearMonth{}, false
	}
	ym, err := calendar.ParseYearMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month, expected YYYY-MM", err)
		return 0, calendar.YearMonth{}, false
	}
	return driverID, ym, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
