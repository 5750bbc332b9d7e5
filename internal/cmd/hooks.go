package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"termwatch/internal/hooklog"
)

func newHooksCmd(s *settings) *cobra.Command {
	var tool string
	var fromStart bool

	cmd := &cobra.Command{
		Use:   "hooks --tool <codex|claude|opencode>",
		Short: "Follow a tool's hook log and print the events it implies",
		Long: `Tails the tool's hook log and prints, one JSON object per line, every
event that carries agent state. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !hooklog.KnownTool(tool) {
				return fmt.Errorf("--tool must be one of: %s", strings.Join(hooklog.Tools, ", "))
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			t := hooklog.NewTailer(hooklog.Path(s.cfg.HooksDir(), tool), func(line []byte) {
				if p, ok := hooklog.ClassifyLine(tool, line); ok {
					_ = enc.Encode(p)
				}
			})
			t.SkipExisting = !fromStart
			t.SetLogger(s.log)
			t.Run(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "Tool whose hook log to follow")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "Replay events already in the log")

	return cmd
}
