package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/attendance-engine/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the provisional-summary refresher",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	handler := api.NewHandler(a.store, a.pipeline)
	handler.Cache = a.cache
	handler.ExternalSource = a.legacy != nil

	if a.cfg.Server.SeedScenarios && !handler.ExternalSource {
		if err := handler.SeedDefault(context.Background()); err != nil {
			a.log.WithError(err).Warn("Failed to seed default scenario")
		}
	}

	refresher := api.NewProvisionalRefresher(a.store, a.pipeline, a.log)
	refresher.Enabled = a.cfg.Scheduler.Enabled
	if refresher.Enabled {
		if refresher.CheckInterval, err = a.cfg.Scheduler.Every(); err != nil {
			return err
		}
	}
	refresher.Start()
	defer refresher.Stop()

	server := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, a.cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	a.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	a.log.Info("Server stopped")
	return nil
}
