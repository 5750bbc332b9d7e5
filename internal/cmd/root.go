package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"termwatch/internal/config"
	"termwatch/internal/logger"
)

// settings is what every command runs with once the config is loaded.
type settings struct {
	cfg *config.Config
	log *logger.Logger
}

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	var configPath string
	var logLevel string
	s := &settings{}

	rootCmd := &cobra.Command{
		Use:   "termwatch",
		Short: "Supervise terminal sessions and infer agent state",
		Long: `termwatch runs shell sessions inside a worker process and watches their
output, together with hook events from coding agents, to tell whether each
session is idle, running, waiting for input, or finished.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			return s.load(configPath, logLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if s.log != nil {
				_ = s.log.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <config dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level from the config")

	rootCmd.AddCommand(
		newWorkerCmd(s),
		newRunCmd(s),
		newObserveCmd(),
		newNotifyCmd(s),
		newHooksCmd(s),
		newVersionCmd(),
	)

	return rootCmd
}

func (s *settings) load(path, level string) error {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	s.cfg, s.log = cfg, log
	return nil
}
