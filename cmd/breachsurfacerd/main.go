package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"breachmap/internal/app"
	"breachmap/internal/config"
	"breachmap/internal/logging"
)

func main() {
	var debug bool
	var tunablesPath string

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "breachsurfacerd",
		Short: "Breach Surfacer detection-and-response daemon",
		Long:  "Serves the identity-graph detection-and-response API: ingest, scan, plan, execute, rollback.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(ctx, debug, tunablesPath)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging (verbose output)")
	rootCmd.Flags().StringVar(&tunablesPath, "tunables", "", "Path to a YAML overlay for detection/response tunables")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, debug bool, tunablesPath string) error {
	logging.SetLogLevel(logging.LogLevelWarn)
	if debug {
		logging.SetLogLevel(logging.LogLevelDebug)
	}

	cfg, err := config.Load(tunablesPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	engine, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine.Server.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.LogInfo(fmt.Sprintf("listening on %s", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logging.LogInfo("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
