package cmd

import (
	"github.com/spf13/cobra"
)

func (c *RootCommand) newCleanCommand() *cobra.Command {
	var semaphores bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the persisted record so the next run probes again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}

			c.log.Info("Cleaning state", "state_dir", c.Opts.StateDir, "semaphores", semaphores)
			return store.Clean(semaphores)
		},
	}

	cmd.Flags().BoolVar(&semaphores, "semaphores", false, "Also remove every semaphore")

	return cmd
}
