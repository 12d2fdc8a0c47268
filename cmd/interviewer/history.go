package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-interviewer/internal/console"
	"github.com/lexiqai/voice-interviewer/internal/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "List past interviews, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.JournalPath == "" {
			return errors.New("no journal configured (set JOURNAL_PATH or --journal)")
		}

		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			limit, _ := cmd.Flags().GetInt("limit")
			sessions, err := j.ListSessions(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, console.RenderSessions(sessions))
			return nil
		}

		s, err := j.Session(ctx, args[0])
		if err != nil {
			return err
		}
		rounds, err := j.Rounds(ctx, s.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, console.RenderSession(*s, rounds))
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Number of sessions to list")
}
