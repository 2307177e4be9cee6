/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Run triggering and the run log
- Summary, days and continuation reads
- Path and body validation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/sqlite"
)

var testNow = time.Date(2026, time.January, 15, 9, 0, 0, 0, time.UTC)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func setupTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipeline, err := engine.NewPipeline(engine.DefaultConfig(), engine.Deps{
		Source: store,
		Sink:   store,
		States: store,
		Runs:   store,
		Logger: quietLogger(),
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)

	h := NewHandler(store, pipeline)
	return h, NewRouter(h, nil)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// storedSummary is the subset of the summary JSON the tests read.
type storedSummary struct {
	DriverID   int64  `json:"driver_id"`
	Month      string `json:"month"`
	Final      bool   `json:"final"`
	Allowances []struct {
		Type   string `json:"type"`
		Days   int    `json:"days"`
		Amount string `json:"amount"`
	} `json:"allowances"`
	Totals struct {
		RestraintMinutes int `json:"restraint_minutes"`
		IncompleteDays   int `json:"incomplete_days"`
	} `json:"totals"`
}

func (s storedSummary) days(allowanceType string) int {
	for _, a := range s.Allowances {
		if a.Type == allowanceType {
			return a.Days
		}
	}
	return -1
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "attendance_incomplete_days_total")
}

// =============================================================================
// RUNS
// =============================================================================

func TestTriggerRun_AllDrivers(t *testing.T) {
	// GIVEN: Two seeded drivers
	h, router := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.seedFourteen(ctx))
	require.NoError(t, h.seedIncomplete(ctx))

	// WHEN: Running December for everyone
	rec := do(t, router, http.MethodPost, "/api/runs", RunRequest{Year: 2025, Month: 12})

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[BatchReportDTO](t, rec)
	assert.Equal(t, "2025-12", report.Month)
	assert.Equal(t, 2, report.Succeeded)
	assert.Zero(t, report.Failed)
	require.Len(t, report.Results, 2)
	assert.Equal(t, fourteenDriver, report.Results[0].DriverID)
	assert.Equal(t, "inserted", report.Results[0].Saved)

	// The run is in the log.
	rec = do(t, router, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]RunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, report.ID, runs[0].ID)
	assert.Equal(t, 2, runs[0].Drivers)
}

func TestTriggerRun_SingleDriverRerunIsUnchanged(t *testing.T) {
	h, router := setupTestHandler(t)
	require.NoError(t, h.seedFourteen(context.Background()))
	id := fourteenDriver
	body := RunRequest{Year: 2025, Month: 12, DriverID: &id}

	first := do(t, router, http.MethodPost, "/api/runs", body)
	second := do(t, router, http.MethodPost, "/api/runs", body)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "inserted", decode[BatchReportDTO](t, first).Results[0].Saved)
	assert.Equal(t, "unchanged", decode[BatchReportDTO](t, second).Results[0].Saved)
}

func TestTriggerRun_Validation(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/runs", RunRequest{Year: 2025, Month: 13})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString("{"))
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestListRuns_InvalidLimit(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodGet, "/api/runs?limit=-3", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// DRIVERS
// =============================================================================

func TestListDrivers(t *testing.T) {
	h, router := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.seedIncomplete(ctx))
	require.NoError(t, h.seedBoundary(ctx))

	rec := do(t, router, http.MethodGet, "/api/drivers?month=2025-12", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	drivers := decode[[]DriverDTO](t, rec)
	require.Len(t, drivers, 2)
	assert.Equal(t, boundaryDriver, drivers[0].ID)
	assert.Equal(t, "Boundary Driver", drivers[0].Name)

	rec = do(t, router, http.MethodGet, "/api/drivers?month=december", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSummary_NotFoundAndBadParams(t *testing.T) {
	_, router := setupTestHandler(t)

	cases := map[string]int{
		"/api/drivers/42/summaries/2025-12":      http.StatusNotFound,
		"/api/drivers/42/summaries/2025-12/days": http.StatusNotFound,
		"/api/drivers/abc/summaries/2025-12":     http.StatusBadRequest,
		"/api/drivers/42/summaries/2025-13":      http.StatusBadRequest,
		"/api/drivers/42/continuation/12-2025":   http.StatusBadRequest,
	}
	for path, want := range cases {
		t.Run(path, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, path, nil)
			assert.Equal(t, want, rec.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestGetSummary_ServesStoredJSON(t *testing.T) {
	// GIVEN: December computed for the fourteen-day driver
	h, router := setupTestHandler(t)
	require.NoError(t, h.loadScenario(context.Background(), mustScenario(t, "december-14")))

	// WHEN
	rec := do(t, router, http.MethodGet, "/api/drivers/43/summaries/2025-12", nil)

	// THEN: The body is the stored canonical JSON
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	stored, err := h.Store.SummaryJSON(context.Background(), fourteenDriver, december2025)
	require.NoError(t, err)
	assert.JSONEq(t, string(stored), rec.Body.String())

	sum := decode[storedSummary](t, rec)
	assert.Equal(t, "2025-12", sum.Month)
	assert.True(t, sum.Final)
	assert.Equal(t, 14, sum.days("trailer"))
	assert.Equal(t, "21000", sum.Allowances[1].Amount)
}

func TestGetDays_FormatsRestraint(t *testing.T) {
	// GIVEN
	h, router := setupTestHandler(t)
	require.NoError(t, h.loadScenario(context.Background(), mustScenario(t, "incomplete-day")))

	// WHEN
	rec := do(t, router, http.MethodGet, "/api/drivers/44/summaries/2025-12/days", nil)

	// THEN: One entry per date; the broken day is zero and flagged
	require.Equal(t, http.StatusOK, rec.Code)
	days := decode[[]DayDTO](t, rec)
	require.Len(t, days, 31)
	assert.Equal(t, "2025-12-01", days[0].Date)
	assert.Equal(t, "05:30", days[0].Restraint)
	assert.Equal(t, "00:00", days[1].Restraint)
	assert.Equal(t, []string{"incomplete"}, days[1].Flags)
	assert.Equal(t, "05:00", days[2].Restraint)
	assert.Empty(t, days[2].Flags)
}

func TestCheckContinuation_AfterBoundaryScenario(t *testing.T) {
	h, router := setupTestHandler(t)
	require.NoError(t, h.loadScenario(context.Background(), mustScenario(t, "boundary")))

	rec := do(t, router, http.MethodGet, "/api/drivers/42/continuation/2025-11", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[ContinuationDTO](t, rec)
	assert.True(t, check.Consistent)
	require.Len(t, check.Types, 2)

	trailer := check.Types[1]
	assert.Equal(t, "trailer", trailer.Type)
	assert.True(t, trailer.Match)
	require.NotNil(t, trailer.Carried)
	assert.True(t, trailer.Replayed.Active)
	assert.Equal(t, "2025-11-30", trailer.Replayed.Since)

	livestock := check.Types[0]
	assert.False(t, livestock.Replayed.Active)
	assert.Empty(t, livestock.Replayed.Since)
}
