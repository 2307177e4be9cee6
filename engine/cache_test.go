package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/memory"
)

// countingStates counts reads reaching the backing store.
type countingStates struct {
	*memory.Memory
	gets    int
	failPut bool
}

func (c *countingStates) GetState(ctx context.Context, driverID int64, t allowance.Type, cutoff calendar.Date) (*allowance.ContinuationState, error) {
	c.gets++
	return c.Memory.GetState(ctx, driverID, t, cutoff)
}

func (c *countingStates) PutState(ctx context.Context, st allowance.ContinuationState) error {
	if c.failPut {
		return errors.New("disk full")
	}
	return c.Memory.PutState(ctx, st)
}

func TestCachedStates_ReadsThroughOnce(t *testing.T) {
	// GIVEN
	backing := &countingStates{Memory: memory.New()}
	cache, err := engine.NewCachedStates(backing, 0)
	require.NoError(t, err)
	ctx := context.Background()
	st := allowance.Inactive(driverID, allowance.Trailer, december.Last())
	require.NoError(t, cache.PutState(ctx, st))

	// WHEN: Reading the same state twice
	got, err := cache.GetState(ctx, driverID, allowance.Trailer, december.Last())
	require.NoError(t, err)
	again, err := cache.GetState(ctx, driverID, allowance.Trailer, december.Last())
	require.NoError(t, err)

	// THEN: Both come from the cache
	assert.Equal(t, st, *got)
	assert.Equal(t, st, *again)
	assert.Zero(t, backing.gets)
	assert.Equal(t, 1, cache.Len())
}

func TestCachedStates_AbsentNotCached(t *testing.T) {
	backing := &countingStates{Memory: memory.New()}
	cache, err := engine.NewCachedStates(backing, 8)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := cache.GetState(ctx, driverID, allowance.Livestock, november.Last())
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 2, backing.gets)
}

func TestCachedStates_FailedWriteEvicts(t *testing.T) {
	// GIVEN: A cached state, then a backing store that rejects writes
	backing := &countingStates{Memory: memory.New()}
	cache, err := engine.NewCachedStates(backing, 8)
	require.NoError(t, err)
	ctx := context.Background()
	st := allowance.Inactive(driverID, allowance.Trailer, december.Last())
	require.NoError(t, cache.PutState(ctx, st))
	backing.failPut = true

	// WHEN
	st.Active = true
	st.Since = december.First()
	err = cache.PutState(ctx, st)

	// THEN: The stale entry is gone so the next read asks the store
	require.Error(t, err)
	assert.Zero(t, cache.Len())
}

func TestCachedStates_Invalidate(t *testing.T) {
	backing := &countingStates{Memory: memory.New()}
	cache, err := engine.NewCachedStates(backing, 8)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, cache.PutState(ctx, allowance.Inactive(driverID, allowance.Trailer, december.Last())))
	require.NoError(t, cache.PutState(ctx, allowance.Inactive(7, allowance.Trailer, december.Last())))

	cache.Invalidate(driverID)

	assert.Equal(t, 1, cache.Len())
}

func TestPipeline_WorksBehindCache(t *testing.T) {
	// GIVEN: The chain of the boundary scenario with cached states
	m := memory.New()
	m.AddOperations(trailerOp("B1", ts(11, 30, 23, 10), ts(12, 1, 2, 40)))
	cache, err := engine.NewCachedStates(m, 16)
	require.NoError(t, err)
	p, err := engine.NewPipeline(engine.DefaultConfig(), engine.Deps{
		Source: m, Sink: m, States: cache, Logger: quietLogger(),
	})
	require.NoError(t, err)

	// WHEN
	outs, err := p.RunChain(context.Background(), driverID, november, december)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, allowance.BaselineCarried, outs[1].Baseline)
	stored, err := m.GetState(context.Background(), driverID, allowance.Trailer, november.Last())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Active)
}
