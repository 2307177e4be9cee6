package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
	"github.com/warp/attendance-engine/metrics"
	"github.com/warp/attendance-engine/summary"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	DefaultConcurrency     = 4
	DefaultLookbackDays    = 31
	DefaultMaxLookbackDays = 186
	DefaultLookaheadDays   = 1
)

// Config tunes the pipeline. Zero values fall back to the defaults above.
type Config struct {
	Concurrency     int
	LookbackDays    int
	MaxLookbackDays int
	LookaheadDays   int

	Calculator attendance.CalculatorConfig
	Overtime   attendance.OvertimeConfig
	Tolerance  allowance.GapTolerance
	Rates      allowance.Rates
}

// DefaultConfig is the legacy profile.
func DefaultConfig() Config {
	return Config{
		Concurrency:     DefaultConcurrency,
		LookbackDays:    DefaultLookbackDays,
		MaxLookbackDays: DefaultMaxLookbackDays,
		LookaheadDays:   DefaultLookaheadDays,
		Calculator:      attendance.DefaultCalculatorConfig(),
		Overtime:        attendance.DefaultOvertimeConfig(),
		Tolerance:       allowance.LegacyGapTolerance(),
		Rates:           allowance.DefaultRates(),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = DefaultLookbackDays
	}
	if c.MaxLookbackDays < c.LookbackDays {
		c.MaxLookbackDays = c.LookbackDays
	}
	if c.LookaheadDays < 0 {
		c.LookaheadDays = 0
	}
	if c.Rates == nil {
		c.Rates = allowance.DefaultRates()
	}
	return c
}

// Deps are the collaborators of a Pipeline. Runs and Logger are optional.
type Deps struct {
	Source Source
	Sink   Sink
	States StateStore
	Runs   RunRecorder
	Logger log.FieldLogger
	// Now defaults to time.Now. Open operations end here.
	Now func() time.Time
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline computes and persists driver-month summaries.
type Pipeline struct {
	cfg      Config
	source   Source
	sink     Sink
	states   StateStore
	runs     RunRecorder
	log      log.FieldLogger
	now      func() time.Time
	calc     *attendance.Calculator
	agg      *attendance.Aggregator
	resolver *allowance.Resolver
}

func NewPipeline(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil || deps.Sink == nil || deps.States == nil {
		return nil, errors.New("pipeline requires a source, a sink and a state store")
	}
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:      cfg,
		source:   deps.Source,
		sink:     deps.Sink,
		states:   deps.States,
		runs:     deps.Runs,
		log:      deps.Logger,
		now:      deps.Now,
		calc:     attendance.NewCalculator(cfg.Calculator),
		agg:      attendance.NewAggregator(cfg.Overtime),
		resolver: allowance.NewResolver(cfg.Tolerance),
	}
	if p.log == nil {
		p.log = log.StandardLogger()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Outcome describes one successful driver-month.
type Outcome struct {
	DriverID       int64
	Month          calendar.YearMonth
	Summary        *summary.Summary
	Saved          SaveOutcome
	Baseline       allowance.Baseline
	IncompleteDays int
	LookbackDays   int
	ReachDays      int
	Duration       time.Duration
}

// RunDriverMonth runs the full pipeline for one driver and month. Nothing is
// persisted unless every stage succeeds and ctx is still live.
func (p *Pipeline) RunDriverMonth(ctx context.Context, driverID int64, ym calendar.YearMonth) (*Outcome, error) {
	started := p.now()
	logger := p.log.WithFields(log.Fields{
		"driver_id": driverID,
		"month":     ym.String(),
	})

	out, err := p.runDriverMonth(ctx, logger, driverID, ym)
	elapsed := time.Since(started)
	if err != nil {
		metrics.DriverMonthRuns.WithLabelValues("failed").Inc()
		metrics.DriverMonthDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		logger.WithError(err).Error("Driver-month failed, no summary produced")
		return nil, err
	}

	result := "final"
	if !out.Summary.IsFinal() {
		result = "provisional"
	}
	metrics.DriverMonthRuns.WithLabelValues(result).Inc()
	metrics.DriverMonthDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	out.Duration = elapsed

	logger.WithFields(log.Fields{
		"baseline":        out.Baseline,
		"saved":           out.Saved,
		"final":           out.Summary.IsFinal(),
		"incomplete_days": out.IncompleteDays,
		"restraint":       attendance.FormatHHMM(out.Summary.Totals().Restraint),
	}).Info("Driver-month computed")
	return out, nil
}

func (p *Pipeline) runDriverMonth(ctx context.Context, logger log.FieldLogger, driverID int64, ym calendar.YearMonth) (*Outcome, error) {
	fail := func(stage Stage, err error) error {
		return &DriverMonthError{DriverID: driverID, Month: ym, Stage: stage, Err: err}
	}
	if !ym.Valid() {
		return nil, fail(StageFetch, fmt.Errorf("invalid month %v", ym))
	}

	carried, err := p.carried(ctx, driverID, ym.Prev().Last())
	if err != nil {
		return nil, fail(StageFetch, err)
	}

	var (
		batch    *Batch
		res      *allowance.Result
		lookback = p.cfg.LookbackDays
		reach    = p.resolver.Tolerance().ReachDays() + 1
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fail(StageFetch, err)
		}
		batch, err = p.fetch(ctx, driverID, ym, lookback, reach)
		if err != nil {
			return nil, fail(StageFetch, err)
		}

		res, err = p.resolve(logger, driverID, ym, batch, carried)
		if err == nil {
			if res.OpenEnded && reach < p.cfg.MaxLookbackDays {
				reach = min(reach*2, p.cfg.MaxLookbackDays)
				logger.WithField("reach_days", reach).Debug("Operation run continues past the window, widening reach")
				continue
			}
			break
		}
		if allowance.NeedsWiderWindow(err) && lookback < p.cfg.MaxLookbackDays {
			lookback = min(lookback*2, p.cfg.MaxLookbackDays)
			metrics.LookbackWidened.Inc()
			logger.WithError(err).WithField("lookback_days", lookback).Warn("Operation run reaches past the window, widening lookback")
			continue
		}
		return nil, fail(StageResolve, err)
	}

	records, dayErrs := p.calc.CalculateMonth(driverID, ym, batch.Events)
	for _, dayErr := range dayErrs {
		metrics.IncompleteDays.Inc()
		logger.WithError(dayErr).Warn("Incomplete shift data, day counted as zero")
	}
	totals, err := p.agg.Aggregate(driverID, ym, records)
	if err != nil {
		return nil, fail(StageAggregate, err)
	}

	s, err := summary.Build(summary.Params{
		DriverID:     driverID,
		Month:        ym,
		Totals:       totals,
		Days:         records,
		Allowance:    res,
		Rates:        p.cfg.Rates,
		Carried:      carried,
		SourceDigest: summary.Digest(batch.Events, batch.Operations),
	})
	if err != nil {
		return nil, fail(StageBuild, err)
	}

	// Cancellation is all-or-nothing: check once more before any write.
	if err := ctx.Err(); err != nil {
		return nil, fail(StagePersist, err)
	}
	saved, err := p.sink.SaveSummary(ctx, s)
	if err != nil {
		return nil, fail(StagePersist, err)
	}
	metrics.SummariesSaved.WithLabelValues(string(saved)).Inc()

	// States are a cache: a failed write only costs a recomputation next month.
	for _, st := range s.Continuations() {
		if err := p.states.PutState(ctx, st); err != nil {
			logger.WithError(err).WithField("allowance", st.Type).Warn("Failed to store continuation state")
		}
	}

	return &Outcome{
		DriverID:       driverID,
		Month:          ym,
		Summary:        s,
		Saved:          saved,
		Baseline:       res.Baseline,
		IncompleteDays: len(dayErrs),
		LookbackDays:   lookback,
		ReachDays:      reach,
	}, nil
}

func (p *Pipeline) fetch(ctx context.Context, driverID int64, ym calendar.YearMonth, lookback, reach int) (*Batch, error) {
	req := Request{
		DriverID:      driverID,
		Month:         ym,
		LookbackDays:  lookback,
		LookaheadDays: p.cfg.LookaheadDays,
		ReachDays:     reach,
	}
	batch, err := p.source.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch driver %d %s: %w", driverID, ym, err)
	}
	if batch.Window == (calendar.DateRange{}) {
		batch.Window = req.Window()
	}
	return batch, nil
}

// resolve runs the resolver with the carried states and, when they cannot be
// reconciled, once more from scratch.
func (p *Pipeline) resolve(logger log.FieldLogger, driverID int64, ym calendar.YearMonth, batch *Batch, carried map[allowance.Type]*allowance.ContinuationState) (*allowance.Result, error) {
	in := allowance.Input{
		DriverID:   driverID,
		Month:      ym,
		Window:     batch.Window,
		Operations: batch.Operations,
		Carried:    carried,
		AsOf:       p.now(),
		DayOffs:    batch.DayOffs,
		Markers:    batch.Markers,
	}

	res, err := p.resolver.Resolve(in)
	if err == nil || !allowance.IsRecoverable(err) {
		return res, err
	}

	var unresolvable *allowance.UnresolvableContinuationError
	if errors.As(err, &unresolvable) {
		metrics.RecomputedBaselines.WithLabelValues(string(unresolvable.Type)).Inc()
	}
	logger.WithError(err).Warn("Carried continuation state rejected, recomputing baseline")

	in.Recompute = true
	return p.resolver.Resolve(in)
}

func (p *Pipeline) carried(ctx context.Context, driverID int64, cutoff calendar.Date) (map[allowance.Type]*allowance.ContinuationState, error) {
	out := make(map[allowance.Type]*allowance.ContinuationState)
	for _, t := range allowance.Types() {
		st, err := p.states.GetState(ctx, driverID, t, cutoff)
		if err != nil {
			return nil, fmt.Errorf("load continuation %s at %s: %w", t, cutoff, err)
		}
		if st != nil {
			out[t] = st
		}
	}
	return out, nil
}
