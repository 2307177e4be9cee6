package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/engine"
)

func TestProvisionalRefresher_FinalizesClosedOperation(t *testing.T) {
	// GIVEN: December computed while a trailer operation was still open
	h, _ := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Store.SaveDriver(ctx, engine.Driver{ID: 7, Name: "Open Run"}))
	open := allowance.Operation{
		Key:      allowance.OperationKey{No: "O1220", CrewRole: 1},
		DriverID: 7,
		Start:    at(time.December, 20, 6, 0),
		Trailer:  true,
	}
	require.NoError(t, h.Store.SaveOperations(ctx, open))
	out, err := h.Pipeline.RunDriverMonth(ctx, 7, december2025)
	require.NoError(t, err)
	require.False(t, out.Summary.IsFinal())

	refresher := NewProvisionalRefresher(h.Store, h.Pipeline, quietLogger())

	// WHEN: Refreshing before the operation closes
	res := refresher.RunNow(ctx)

	// THEN: Nothing becomes final
	assert.Equal(t, RefreshResult{Checked: 1}, res)

	// WHEN: The operation closes and the refresher runs again
	end := at(time.December, 22, 18, 0)
	open.End = &end
	require.NoError(t, h.Store.SaveOperations(ctx, open))
	res = refresher.RunNow(ctx)

	// THEN
	assert.Equal(t, RefreshResult{Checked: 1, Finalized: 1}, res)
	periods, err := h.Store.ProvisionalPeriods(ctx)
	require.NoError(t, err)
	assert.Empty(t, periods)

	sum := summaryOf(t, NewRouter(h, nil), "/api/drivers/7/summaries/2025-12")
	assert.Equal(t, 3, sum.days("trailer"))
}

func TestProvisionalRefresher_StartStop(t *testing.T) {
	h, _ := setupTestHandler(t)
	refresher := NewProvisionalRefresher(h.Store, h.Pipeline, quietLogger())
	refresher.CheckInterval = time.Hour

	refresher.Start()
	refresher.Stop()
	// A second stop is a no-op.
	refresher.Stop()

	disabled := NewProvisionalRefresher(h.Store, h.Pipeline, quietLogger())
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
