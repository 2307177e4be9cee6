/*
scheduler.go - Provisional summary refresher

PURPOSE:
  Periodically re-runs driver-months whose stored summary is provisional,
  typically because an operation was still open when they were computed.
  Once the operation closes the next refresh stores a final summary.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs immediately on start
  - Months of one driver are refreshed oldest first, since each month's
    carry-over feeds the next
  - A failing driver-month is logged and retried on the next tick

USAGE:
  refresher := NewProvisionalRefresher(store, pipeline, logger)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - engine/pipeline.go: RunDriverMonth
  - store/sqlite/sqlite.go: ProvisionalPeriods
*/
package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/metrics"
	"github.com/warp/attendance-engine/store/sqlite"
)

// ProvisionalRefresher recomputes provisional summaries until they are final.
type ProvisionalRefresher struct {
	Store         *sqlite.Store
	Pipeline      *engine.Pipeline
	CheckInterval time.Duration
	Enabled       bool

	log    log.FieldLogger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewProvisionalRefresher creates a new refresher. A nil logger uses the
// standard logrus logger.
func NewProvisionalRefresher(store *sqlite.Store, pipeline *engine.Pipeline, logger log.FieldLogger) *ProvisionalRefresher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ProvisionalRefresher{
		Store:         store,
		Pipeline:      pipeline,
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
		log:           logger.WithField("component", "refresher"),
		stop:          make(chan bool),
	}
}

// Start begins the refresher.
func (pr *ProvisionalRefresher) Start() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if !pr.Enabled {
		pr.log.Info("Refresher disabled, not starting")
		return
	}

	pr.ticker = time.NewTicker(pr.CheckInterval)
	pr.wg.Add(1)

	go pr.run()

	pr.log.WithField("interval", pr.CheckInterval.String()).Info("Refresher started")
}

// Stop stops the refresher and waits for a refresh in progress.
func (pr *ProvisionalRefresher) Stop() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.ticker != nil {
		pr.ticker.Stop()
		close(pr.stop)
		pr.wg.Wait()
		pr.ticker = nil
		pr.log.Info("Refresher stopped")
	}
}

func (pr *ProvisionalRefresher) run() {
	defer pr.wg.Done()

	// Run immediately on start
	pr.RunNow(context.Background())

	for {
		select {
		case <-pr.ticker.C:
			pr.RunNow(context.Background())
		case <-pr.stop:
			return
		}
	}
}

// RefreshResult counts what one refresh did.
type RefreshResult struct {
	Checked   int
	Finalized int
	Failed    int
}

// RunNow refreshes every provisional driver-month once.
func (pr *ProvisionalRefresher) RunNow(ctx context.Context) RefreshResult {
	var res RefreshResult

	periods, err := pr.Store.ProvisionalPeriods(ctx)
	if err != nil {
		pr.log.WithError(err).Error("Failed to list provisional periods")
		return res
	}

	// Oldest first, one failure skips the driver's later months.
	failed := make(map[int64]bool)
	for _, p := range periods {
		if failed[p.DriverID] {
			continue
		}
		res.Checked++

		out, err := pr.Pipeline.RunDriverMonth(ctx, p.DriverID, p.Month)
		if err != nil {
			failed[p.DriverID] = true
			res.Failed++
			continue
		}
		if out.Summary.IsFinal() {
			res.Finalized++
		}
	}

	metrics.ProvisionalSummaries.Set(float64(len(periods) - res.Finalized))

	if res.Checked > 0 {
		pr.log.WithFields(log.Fields{
			"checked":   res.Checked,
			"finalized": res.Finalized,
			"failed":    res.Failed,
		}).Info("Provisional summaries refreshed")
	}
	return res
}
