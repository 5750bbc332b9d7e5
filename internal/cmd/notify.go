package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"termwatch/internal/hooklog"
)

func newNotifyCmd(s *settings) *cobra.Command {
	var tool string

	cmd := &cobra.Command{
		Use:   "notify --tool <codex|claude|opencode>",
		Short: "Append a hook event read from stdin to the tool's hook log",
		Long: `Reads one hook JSON payload from stdin and appends it to the tool's hook
log, where a running supervisor picks it up.

Meant to be registered as the hook command of a coding agent. When run
inside a termwatch session the payload is tagged with that session's id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !hooklog.KnownTool(tool) {
				return fmt.Errorf("--tool must be one of: %s", strings.Join(hooklog.Tools, ", "))
			}
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			data, err = tagSession(data, os.Getenv(hooklog.SessionEnvVar))
			if err != nil {
				return err
			}

			dir := s.cfg.HooksDir()
			if err := hooklog.Append(dir, tool, data); err != nil {
				return err
			}
			s.log.Debug("hook event recorded", zap.String("tool", tool), zap.String("dir", dir))
			return nil
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "Tool that produced the event")

	return cmd
}

// tagSession adds termwatch_session_id to a JSON object payload that does
// not carry one. Other payloads pass through unchanged.
func tagSession(data []byte, sessionID string) ([]byte, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		var anyValue any
		if json.Unmarshal(data, &anyValue) != nil {
			return nil, fmt.Errorf("parse hook JSON: %w", err)
		}
		return data, nil
	}
	if sessionID == "" {
		return data, nil
	}
	if _, ok := obj["termwatch_session_id"]; ok {
		return data, nil
	}
	obj["termwatch_session_id"] = sessionID
	return json.Marshal(obj)
}
