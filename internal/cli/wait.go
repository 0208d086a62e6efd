package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/platform/env"
	"github.com/animus-labs/loadrunner/internal/workspace"
)

func newWaitCmd() *cobra.Command {
	var (
		resultsPath string
		interval    time.Duration
		timeout     time.Duration
		tail        int
	)
	cmd := &cobra.Command{
		Use:   "wait RUN_ID",
		Short: "Poll a run workspace until the DONE marker appears, then print the log tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if err := domain.ValidateRunID(runID); err != nil {
				return configError(err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			layout := workspace.Layout{Root: resultsPath}
			if err := layout.AwaitFinished(ctx, runID, interval); err != nil {
				return runtimeError(fmt.Errorf("wait for %s: %w", runID, err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), layout.TailLogN(runID, tail))
			record, err := layout.ReadRecord(runID)
			if err != nil || record.ExitCode == nil {
				return nil
			}
			if !record.Succeeded() {
				return runtimeError(fmt.Errorf("run %s failed with exit code %d", runID, *record.ExitCode))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s succeeded\n", runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&resultsPath, "results", env.String("RESULTS_PATH", "/var/gatling/results"), "results root holding run workspaces")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().IntVar(&tail, "tail", workspace.TailLines, "log lines to print once finished")
	return cmd
}
