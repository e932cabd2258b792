/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mikl0s/PLM/internal/config"
	"github.com/mikl0s/PLM/internal/logging"
	"github.com/mikl0s/PLM/internal/server"
	"github.com/mikl0s/PLM/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "plm",
	Short:   "PLM - Plex library deduplication engine",
	Long:    "PLM fingerprints media libraries across Plex servers, finds probable duplicates, and tracks their review.",
	Version: version.Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PLM server",
	Long:  "Start the HTTP API server and the recurring library scanner",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single full library scan and exit",
	RunE:  runScan,
}

var rematchCmd = &cobra.Command{
	Use:   "rematch",
	Short: "Re-run duplicate matching over all stored fingerprints and exit",
	Long:  "Recovers fingerprints that were stored without their matches, for example after a crash mid-scan. Needs no media server access.",
	RunE:  runRematch,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rematchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("PLM starting")

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("PLM stopped")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	srv, err := oneShotServer()
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	run, err := srv.Scanner().RunOnce(signalContext())
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	logger.Info().
		Int("servers", run.ServersScanned).
		Int("items", run.ItemsProcessed).
		Int("matches", run.MatchesCreated).
		Int("errors", run.Errors).
		Msg("scan complete")
	return nil
}

func runRematch(cmd *cobra.Command, args []string) error {
	srv, err := oneShotServer()
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	created, err := srv.Scanner().Rematch(signalContext())
	if err != nil {
		return fmt.Errorf("rematch: %w", err)
	}
	logger.Info().Int("matches_created", created).Msg("re-match complete")
	return nil
}

// oneShotServer builds the full dependency graph without serving HTTP, for
// the scan and rematch subcommands.
func oneShotServer() (*server.Server, error) {
	if err := loadConfig(); err != nil {
		return nil, err
	}
	srv, err := server.NewOneShot(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return srv, nil
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()
	return ctx
}
