package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"termwatch/internal/monitor"
)

func newObserveCmd() *cobra.Command {
	var exitCode int
	var idle bool
	var quiet time.Duration
	var tailChars int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "observe [--exit-code N] [--idle]",
		Short: "Classify terminal output read from stdin",
		Long: `Reads captured terminal output from stdin and prints the state the
terminal observer assigns to it. By default a command is assumed to be in
flight; --idle says none is. --exit-code marks the process as exited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			now := time.Now()
			snap := monitor.Snapshot{
				Now:           now,
				LastOutputAt:  now.Add(-quiet),
				Tail:          monitor.TailForObservation(monitor.CleanTail(string(data)), tailChars),
				CommandActive: !idle,
			}
			if cmd.Flags().Changed("exit-code") {
				code := exitCode
				snap.ExitCode = &code
			}
			obs := monitor.ComputeState(snap)

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(monitor.Record{State: obs.State, Reason: obs.Reason})
			}
			fmt.Fprintf(out, "%s\t%s\n", stateLabel(out, obs.State), obs.Reason)
			return nil
		},
	}

	cmd.Flags().IntVar(&exitCode, "exit-code", 0, "Treat the process as exited with this code")
	cmd.Flags().BoolVar(&idle, "idle", false, "No command is in flight")
	cmd.Flags().DurationVar(&quiet, "quiet-for", 0, "How long the output has been quiet")
	cmd.Flags().IntVar(&tailChars, "tail-chars", monitor.DefaultTailChars, "Characters of trailing output to inspect")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}
