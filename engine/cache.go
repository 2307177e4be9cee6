package engine

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/metrics"
)

// DefaultStateCacheSize bounds CachedStates when no size is configured.
const DefaultStateCacheSize = 4096

type stateKey struct {
	DriverID int64
	Type     allowance.Type
	Cutoff   calendar.Date
}

// CachedStates is an LRU in front of a StateStore. Writes go through to the
// backing store; absent states are not cached.
type CachedStates struct {
	next  StateStore
	cache *lru.Cache[stateKey, allowance.ContinuationState]
}

func NewCachedStates(next StateStore, size int) (*CachedStates, error) {
	if size <= 0 {
		size = DefaultStateCacheSize
	}
	cache, err := lru.New[stateKey, allowance.ContinuationState](size)
	if err != nil {
		return nil, fmt.Errorf("create state cache: %w", err)
	}
	return &CachedStates{next: next, cache: cache}, nil
}

func (c *CachedStates) GetState(ctx context.Context, driverID int64, t allowance.Type, cutoff calendar.Date) (*allowance.ContinuationState, error) {
	key := stateKey{DriverID: driverID, Type: t, Cutoff: cutoff}
	if st, ok := c.cache.Get(key); ok {
		metrics.StateCacheHits.Inc()
		return &st, nil
	}
	metrics.StateCacheMisses.Inc()

	st, err := c.next.GetState(ctx, driverID, t, cutoff)
	if err != nil || st == nil {
		return st, err
	}
	c.cache.Add(key, *st)
	return st, nil
}

func (c *CachedStates) PutState(ctx context.Context, state allowance.ContinuationState) error {
	if err := c.next.PutState(ctx, state); err != nil {
		c.cache.Remove(stateKey{DriverID: state.DriverID, Type: state.Type, Cutoff: state.Cutoff})
		return err
	}
	c.cache.Add(stateKey{DriverID: state.DriverID, Type: state.Type, Cutoff: state.Cutoff}, state)
	return nil
}

// Invalidate drops every cached state of driverID.
func (c *CachedStates) Invalidate(driverID int64) {
	for _, key := range c.cache.Keys() {
		if key.DriverID == driverID {
			c.cache.Remove(key)
		}
	}
}

// Len is the number of cached states.
func (c *CachedStates) Len() int { return c.cache.Len() }

// Purge drops every cached state.
func (c *CachedStates) Purge() { c.cache.Purge() }
