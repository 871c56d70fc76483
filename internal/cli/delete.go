package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <key>",
		Short: "Remove an entity and its relation rows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := a.openClient()
			if err != nil {
				return err
			}
			defer closeFn()

			col, err := collection(c, args[0])
			if err != nil {
				return err
			}
			if err := col.Delete(cmd.Context(), args[1]); err != nil {
				return opError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", col.Name(), args[1])
			return nil
		},
	}
}
