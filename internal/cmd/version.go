package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tinkerbell/sprout/internal/build"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rev := build.GetGitRevision()
			if rev == "" {
				rev = "unknown"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sprout %v (%v)\n", build.GetVersion(), rev)
			return err
		},
	}
}
