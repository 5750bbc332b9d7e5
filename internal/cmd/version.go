package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"termwatch/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the termwatch version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "termwatch %s\n", version.DisplayVersion())
		},
	}
}
