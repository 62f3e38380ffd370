// Package cmd contains the openkb command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkb/openkb/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "openkb",
	Short: "openkb - knowledge base ingestion and query service",
	Long: `openkb ingests documents into knowledge bases, indexes them for
semantic retrieval, and answers questions over them with optional
guardrails and agents.

Run "openkb serve" to start the HTTP API server.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	logger := initLogger()
	slog.SetDefault(logger)
	return rootCmd.Execute()
}

// initLogger builds the process logger. DEBUG in the environment enables
// debug level; OPENKB_LOG_JSON switches to JSON output for log collectors.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
		cfg.AddSource = true
	}
	if os.Getenv("OPENKB_LOG_JSON") != "" {
		cfg.JSON = true
	}
	return log.New(cfg)
}
