package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-interviewer/internal/config"
	"github.com/lexiqai/voice-interviewer/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:           "interviewer",
	Short:         "Voice interview client",
	Long:          "interviewer plays interview questions, records spoken answers and exchanges them with the evaluation service.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().String("journal", "", "Path to the SQLite interview journal (overrides JOURNAL_PATH)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig reads the environment, applies flag overrides and starts the
// logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if p, _ := cmd.Flags().GetString("journal"); p != "" {
		cfg.JournalPath = p
	}

	observability.InitLogger(observability.LogOptions{
		Level:     cfg.LogLevel,
		Pretty:    cfg.LogPretty,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})
	return cfg, nil
}
