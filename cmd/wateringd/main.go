/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/wateringd/internal/config"
	"github.com/friendsincode/wateringd/internal/logging"
	"github.com/friendsincode/wateringd/internal/server"
	"github.com/friendsincode/wateringd/internal/version"
)

var (
	logger  zerolog.Logger
	cfg     *config.Config
	envFile string
)

var rootCmd = &cobra.Command{
	Use:     "wateringd",
	Short:   "wateringd - irrigation valve scheduler",
	Long:    "wateringd opens one irrigation valve at a time according to weekly watering windows.",
	Version: version.String(),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the scheduler loop",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file before reading configuration")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

// openCore builds the offline stack used by maintenance commands.
func openCore(ctx context.Context) (*server.Core, error) {
	if err := loadConfig(); err != nil {
		return nil, err
	}
	core, err := server.NewCore(ctx, cfg, true, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return core, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Ints("channels", cfg.Channels).Str("relay_driver", string(cfg.RelayDriver)).Msg("wateringd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()
	serveErr := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	if metrics := srv.MetricsServer(); metrics != nil {
		go func() {
			logger.Info().Str("addr", metrics.Addr).Msg("metrics server listening")
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	notifySystemd(daemon.SdNotifyReady)
	go runWatchdog(ctx)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		logger.Error().Err(err).Msg("http server error")
	}

	logger.Info().Msg("shutting down gracefully...")
	notifySystemd(daemon.SdNotifyStopping)

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if shutdownErr := httpServer.Shutdown(timeoutCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("graceful shutdown failed")
	}
	if metrics := srv.MetricsServer(); metrics != nil {
		_ = metrics.Shutdown(timeoutCtx)
	}

	if closeErr := srv.Close(); closeErr != nil {
		logger.Error().Err(closeErr).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("wateringd stopped")
	return err
}

func notifySystemd(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}

// runWatchdog pings systemd at half the configured watchdog interval.
func runWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notifySystemd(daemon.SdNotifyWatchdog)
		}
	}
}
