package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"termwatch/internal/hooklog"
	"termwatch/internal/monitor"
	"termwatch/internal/protocol"
	"termwatch/internal/supervisor"
)

func newRunCmd(s *settings) *cobra.Command {
	var command string
	var cwd string
	var tool string
	var envPairs []string

	cmd := &cobra.Command{
		Use:   "run [--cmd <command>] [--cwd <dir>] [--tool <name>]",
		Short: "Run a command in a supervised session attached to this terminal",
		Long: `Starts a worker, runs the command in a session on it, and attaches this
terminal to the session. State changes are reported on stderr and in the
window title. With --tool, that tool's hook log feeds the agent state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tool != "" && !hooklog.KnownTool(tool) {
				return fmt.Errorf("--tool must be one of: %s", strings.Join(hooklog.Tools, ", "))
			}
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}
			if command == "" {
				command = os.Getenv("SHELL")
			}
			if command == "" {
				command = "sh"
			}

			code, err := runAttached(cmd.Context(), s, supervisor.StartRequest{
				Cmd: command,
				Cwd: cwd,
				Env: env,
			}, tool)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "cmd", "", "Command line to run (default $SHELL)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory for the command")
	cmd.Flags().StringVar(&tool, "tool", "", "Agent tool whose hook log to follow (codex, claude, opencode)")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "Extra environment KEY=VALUE (repeatable)")

	return cmd
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--env %q: want KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

// runAttached runs one session with this terminal as its console and
// returns the session's exit code.
func runAttached(ctx context.Context, s *settings, req supervisor.StartRequest, tool string) (int, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return 0, fmt.Errorf("stdin is not a terminal")
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return 0, fmt.Errorf("get terminal size: %w", err)
	}
	req.Cols, req.Rows = cols, rows

	workerArgs := []string{supervisor.WorkerCommand}
	if s.cfg.Logging.Level != "" {
		workerArgs = append(workerArgs, "--log-level", s.cfg.Logging.Level)
	}
	client, err := supervisor.StartWorker(supervisor.WorkerOptions{
		Path:   s.cfg.Worker.Path,
		Args:   workerArgs,
		Logger: s.log,
	})
	if err != nil {
		return 0, err
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		exitCode = -1
	)
	status := termenv.NewOutput(os.Stderr)
	sup := supervisor.New(client, supervisor.Options{
		StartAttempts:   s.cfg.Supervisor.StartAttempts,
		StartRetryDelay: s.cfg.Supervisor.StartRetryDelay,
		PollInterval:    s.cfg.Observer.PollInterval,
		TailChars:       s.cfg.Observer.TailChars,
		Logger:          s.log,
		OnOutput: func(_, chunk string) {
			_, _ = os.Stdout.WriteString(chunk)
		},
		OnExit: func(_ string, code int) {
			mu.Lock()
			exitCode = code
			mu.Unlock()
			cancel()
		},
		OnError: func(e protocol.Error) {
			if !e.Recoverable {
				cancel()
			}
		},
		OnChange: func(ev supervisor.Evaluation) {
			fmt.Fprintf(os.Stderr, "\r\n[termwatch] %s (%s)\r\n", stateLabel(os.Stderr, ev.Next.State), ev.Next.Reason)
		},
		OnAggregate: func(st monitor.State) {
			status.SetWindowTitle("termwatch: " + string(st))
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(ctx) }()

	id, err := sup.Start(ctx, req)
	if err != nil {
		return 0, err
	}
	log := s.log.WithSession(id)

	if tool != "" {
		t := hooklog.NewTailer(hooklog.Path(s.cfg.HooksDir(), tool), func(line []byte) {
			if p, ok := hooklog.ClassifyLine(tool, line); ok {
				sup.DeliverHook(p)
			}
		})
		t.SkipExisting = true
		t.SetLogger(log)
		go t.Run(ctx)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return 0, fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		status.SetWindowTitle("")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				c, r, err := term.GetSize(fd)
				if err != nil {
					continue
				}
				if err := sup.Resize(id, c, r); err != nil {
					log.Debug("resize failed", zap.Error(err))
				}
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if err := sup.SendInput(id, string(buf[:n])); err != nil {
					log.Debug("send input failed", zap.Error(err))
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil && !errors.Is(err, supervisor.ErrWorkerGone) {
			return 0, err
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if exitCode < 0 {
		return 1, nil
	}
	return exitCode, nil
}
