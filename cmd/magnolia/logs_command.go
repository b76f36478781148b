package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"magnolia/internal/logging"
	"magnolia/internal/logs"
	"magnolia/internal/services"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var runID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent entries from the magnolia log file",
		Long: "Show recent entries from the magnolia log file.\n\n" +
			"--run narrows output to one invocation. Console-format files only carry\n" +
			"run_id on debug lines, so use --log-format json for complete filtering.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 0 {
				return services.Wrap(services.ErrValidation, "logs", "parse flags", "--lines must be >= 0", nil)
			}
			path := filepath.Join(ctx.config.Paths.LogDir, logging.LogFileName)
			out := cmd.OutOrStdout()

			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines, RunID: runID})
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(result.Lines) == 0 {
					fmt.Fprintln(out, "No log entries available")
				}
				return nil
			}

			offset := result.Offset
			for {
				next, err := logs.Tail(cmd.Context(), path, logs.TailOptions{
					Offset: offset,
					Follow: true,
					Wait:   5 * time.Second,
					RunID:  runID,
				})
				if err != nil {
					if errors.Is(err, cmd.Context().Err()) {
						return nil
					}
					return fmt.Errorf("follow log: %w", err)
				}
				for _, line := range next.Lines {
					fmt.Fprintln(out, line)
				}
				offset = next.Offset
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they are written")
	cmd.Flags().StringVar(&runID, "run", "", "Only show lines from this run ID")
	return cmd
}
