package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/calendar"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// BATCH - one month, many drivers
// =============================================================================

// DriverResult is one driver's line in a BatchReport. Exactly one of Outcome
// and Err is set.
type DriverResult struct {
	DriverID int64
	Outcome  *Outcome
	Err      error
}

// BatchReport summarizes a RunMonth call.
type BatchReport struct {
	ID         string
	Month      calendar.YearMonth
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []DriverResult
}

func (r *BatchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

func (r *BatchReport) Failed() int { return len(r.Results) - r.Succeeded() }

// Provisional counts successful drivers whose summary is not final.
func (r *BatchReport) Provisional() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome != nil && res.Outcome.Summary != nil && !res.Outcome.Summary.IsFinal() {
			n++
		}
	}
	return n
}

// RunMonth runs every listed driver for ym; with no drivers listed it asks
// the Source. Drivers run in parallel up to Config.Concurrency. A failing
// driver is recorded in the report and never stops the others.
func (p *Pipeline) RunMonth(ctx context.Context, ym calendar.YearMonth, driverIDs ...int64) (*BatchReport, error) {
	if len(driverIDs) == 0 {
		drivers, err := p.source.Drivers(ctx, ym)
		if err != nil {
			return nil, fmt.Errorf("list drivers for %s: %w", ym, err)
		}
		for _, d := range drivers {
			driverIDs = append(driverIDs, d.ID)
		}
	}
	ids := partition(driverIDs)

	report := &BatchReport{
		ID:        uuid.NewString(),
		Month:     ym,
		StartedAt: p.now(),
		Results:   make([]DriverResult, len(ids)),
	}
	logger := p.log.WithFields(log.Fields{
		"run_id":  report.ID,
		"month":   ym.String(),
		"drivers": len(ids),
	})
	logger.Info("Batch started")

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			out, err := p.RunDriverMonth(ctx, id, ym)
			// Each goroutine owns its own slot.
			report.Results[i] = DriverResult{DriverID: id, Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	report.FinishedAt = p.now()

	logger.WithFields(log.Fields{
		"succeeded":   report.Succeeded(),
		"failed":      report.Failed(),
		"provisional": report.Provisional(),
	}).Info("Batch finished")

	if p.runs != nil {
		if err := p.runs.RecordRun(ctx, report); err != nil {
			logger.WithError(err).Warn("Failed to record batch run")
		}
	}
	return report, nil
}

// partition removes duplicates so no driver is handed to two workers.
func partition(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// CHAIN - one driver, consecutive months
// =============================================================================

// RunChain runs from..to for one driver in order. Month N starts only after
// month N-1 has stored its carry-over; the chain stops at the first failure.
func (p *Pipeline) RunChain(ctx context.Context, driverID int64, from, to calendar.YearMonth) ([]*Outcome, error) {
	var outcomes []*Outcome
	for _, ym := range calendar.MonthsBetween(from, to) {
		out, err := p.RunDriverMonth(ctx, driverID, ym)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// =============================================================================
// REPLAY - continuation consistency
// =============================================================================

// ContinuationCheck compares the stored carry-over at a month's end with the
// state replayed from raw operations.
type ContinuationCheck struct {
	DriverID int64
	Month    calendar.YearMonth
	Carried  map[allowance.Type]*allowance.ContinuationState
	Replayed map[allowance.Type]allowance.ContinuationState
	// Truncated marks types whose run reaches back past the widest lookback.
	// Their replay takes the carried start date for the unseen part.
	Truncated  map[allowance.Type]bool
	Consistent bool
}

// Replay re-derives the ContinuationStates at ym's last day from raw
// operations, fetched with the widest configured lookback. claims, which may
// be nil, stand in for operations older than that lookback.
func (p *Pipeline) Replay(ctx context.Context, driverID int64, ym calendar.YearMonth, claims map[allowance.Type]*allowance.ContinuationState) (map[allowance.Type]allowance.ContinuationState, map[allowance.Type]bool, error) {
	batch, err := p.fetch(ctx, driverID, ym, p.cfg.MaxLookbackDays, 0)
	if err != nil {
		return nil, nil, err
	}
	asOf := p.now()
	out := make(map[allowance.Type]allowance.ContinuationState, len(allowance.Types()))
	truncated := make(map[allowance.Type]bool)
	for _, t := range allowance.Types() {
		st, cut := p.resolver.ReplayState(driverID, t, ym.Last(), batch.Operations, batch.Window, asOf, claims[t])
		out[t] = st
		if cut {
			truncated[t] = true
		}
	}
	return out, truncated, nil
}

// CheckContinuation replays ym and compares with what was carried.
func (p *Pipeline) CheckContinuation(ctx context.Context, driverID int64, ym calendar.YearMonth) (*ContinuationCheck, error) {
	carried, err := p.carried(ctx, driverID, ym.Last())
	if err != nil {
		return nil, err
	}
	replayed, truncated, err := p.Replay(ctx, driverID, ym, carried)
	if err != nil {
		return nil, err
	}

	check := &ContinuationCheck{
		DriverID:   driverID,
		Month:      ym,
		Carried:    carried,
		Replayed:   replayed,
		Truncated:  truncated,
		Consistent: true,
	}
	for _, t := range allowance.Types() {
		got, ok := carried[t]
		if !ok || *got != replayed[t] {
			check.Consistent = false
		}
	}
	return check, nil
}
