package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tinkerbell/sprout/internal/state"
)

// ErrSemaphoreConsumed is returned by the semaphore command when the semaphore was already
// consumed at the requested frequency.
var ErrSemaphoreConsumed = errors.New("semaphore already consumed")

func (c *RootCommand) newSemaphoreCommand() *cobra.Command {
	var frequency string

	cmd := &cobra.Command{
		Use:   "semaphore <name>",
		Short: "Consume a named semaphore, failing if it was already consumed",
		Long: `Consume a named semaphore. The command exits 0 if the caller should run the guarded
action and 1 if the semaphore was already consumed at the requested frequency.`,
		Example: `  sprout semaphore ssh-host-keys --frequency per-instance && regenerate-keys`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			freq, err := state.ParseFrequency(frequency)
			if err != nil {
				return err
			}

			store, err := c.openStore()
			if err != nil {
				return err
			}

			consumed, err := store.CheckAndSet(args[0], freq)
			if err != nil {
				return err
			}
			if consumed {
				return errors.Wrapf(ErrSemaphoreConsumed, "%v (%v)", args[0], freq)
			}

			fmt.Fprintln(cmd.OutOrStdout(), args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&frequency, "frequency", string(state.PerInstance), "One of per-instance, per-boot, per-once or always")

	return cmd
}
