package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"termwatch/internal/session"
	"termwatch/internal/supervisor"
	"termwatch/internal/worker"
)

func newWorkerCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:    supervisor.WorkerCommand,
		Short:  "Serve the session protocol on stdin/stdout (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s.log.Debug("worker starting")
			return worker.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), worker.Options{
				Session: session.Options{
					WriteTimeout:  s.cfg.Worker.WriteTimeout,
					StopGrace:     s.cfg.Worker.StopGrace,
					CoalesceDelay: s.cfg.Output.CoalesceDelay,
					CoalesceBytes: s.cfg.Output.CoalesceBytes,
				},
				Logger: s.log,
			})
		},
	}
}
