// Package metrics declares the Prometheus collectors of the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	DriverMonthRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_driver_month_runs_total",
			Help: "Driver-month pipeline runs by result",
		},
		[]string{"result"},
	)

	DriverMonthDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attendance_driver_month_duration_seconds",
			Help:    "Driver-month pipeline duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"result"},
	)

	IncompleteDays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_incomplete_days_total",
			Help: "Days zeroed because a clock-in had no clock-out",
		},
	)

	// Continuation metrics
	RecomputedBaselines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_recomputed_baselines_total",
			Help: "Carried continuation states rejected and recomputed",
		},
		[]string{"allowance"},
	)

	LookbackWidened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_lookback_widened_total",
			Help: "Operation windows widened because a run reached past the lookback",
		},
	)

	StateCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_state_cache_hits_total",
			Help: "Continuation state cache hits",
		},
	)

	StateCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_state_cache_misses_total",
			Help: "Continuation state cache misses",
		},
	)

	// Persistence metrics
	SummariesSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_summaries_saved_total",
			Help: "Summary saves by outcome (inserted, updated, unchanged)",
		},
		[]string{"outcome"},
	)

	ProvisionalSummaries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attendance_provisional_summaries",
			Help: "Stored summaries whose allowance figures are still provisional",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DriverMonthRuns,
		DriverMonthDuration,
		IncompleteDays,
		RecomputedBaselines,
		LookbackWidened,
		StateCacheHits,
		StateCacheMisses,
		SummariesSaved,
		ProvisionalSummaries,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
