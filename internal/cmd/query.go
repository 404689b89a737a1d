package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tinkerbell/sprout/internal/query"
)

func (c *RootCommand) newQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <jq-expression>",
		Short: "Evaluate a jq expression against the persisted metadata",
		Example: `  sprout query '.metadata."instance-id"'
  sprout query '.metadata."user-data"'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}

			rec, err := store.ReadRecord()
			if err != nil {
				return err
			}

			out, err := query.Evaluate(args[0], *rec)
			if err != nil {
				return err
			}

			if len(out) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return nil
		},
	}
}
