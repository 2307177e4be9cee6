package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/mysql"
	"github.com/warp/attendance-engine/store/postgres"
	"github.com/warp/attendance-engine/store/sqlite"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "attendance-engine",
	Short: "Monthly restraint time and allowance aggregation for drivers",
	Long: `attendance-engine computes per driver-month restraint totals and
livestock/trailer allowance days from punch-clock events and vehicle
operations, carrying allowance continuity across month boundaries.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to serve when no subcommand is provided
		return runServe(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the collaborators every command needs.
type app struct {
	cfg      *config.Config
	log      *log.Logger
	store    *sqlite.Store
	legacy   legacySource
	cache    *engine.CachedStates
	pipeline *engine.Pipeline
}

// setup loads configuration and wires the store, the source and the
// pipeline.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.New()
	if err := cfg.Logging.Apply(logger); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger}

	a.store, err = sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.WithField("path", cfg.Database.Path).Info("Database initialized")

	var source engine.Source = a.store
	if cfg.Source.Driver != "sqlite" {
		loc, err := cfg.Location()
		if err != nil {
			a.close()
			return nil, err
		}
		a.legacy, err = openLegacy(ctx, cfg.Source.Driver, cfg.Source.URL, loc)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to legacy database: %w", err)
		}
		source = a.legacy
		logger.WithFields(log.Fields{
			"driver":   cfg.Source.Driver,
			"timezone": loc.String(),
		}).Info("Reading raw records from the legacy database")
	}

	a.cache, err = engine.NewCachedStates(a.store, cfg.Cache.Size)
	if err != nil {
		a.close()
		return nil, err
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		a.close()
		return nil, err
	}
	a.pipeline, err = engine.NewPipeline(engineCfg, engine.Deps{
		Source: source,
		Sink:   a.store,
		States: a.cache,
		Runs:   a.store,
		Logger: logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	logger.WithFields(log.Fields{
		"concurrency":   engineCfg.Concurrency,
		"lookback_days": engineCfg.LookbackDays,
		"gap_tolerance": engineCfg.Tolerance.String(),
	}).Info("Pipeline initialized")
	return a, nil
}

// legacySource is a read-only source with a connection to release.
type legacySource interface {
	engine.Source
	Close()
}

func openLegacy(ctx context.Context, driver, url string, loc *time.Location) (legacySource, error) {
	switch driver {
	case "mysql":
		src, err := mysql.New(ctx, url, loc)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "postgres":
		src, err := postgres.New(ctx, url, loc)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown source driver %q", driver)
}

func (a *app) close() {
	if a.legacy != nil {
		a.legacy.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Error("Failed to close database")
		}
	}
}
