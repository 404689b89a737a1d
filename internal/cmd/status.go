package cmd

import (
	"encoding/json"
	"errors"
	"io/fs"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (c *RootCommand) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the outcome of the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}

			st, err := store.ReadStatus()
			if errors.Is(err, fs.ErrNotExist) {
				return pkgerrors.New("sprout has not run yet")
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}
