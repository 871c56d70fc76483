package cli

import (
	"github.com/spf13/cobra"
)

func (a *app) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <key>",
		Short: "Show an entity with its relations",
		Long: `Get fetches one entity and prints every field, relation fields included.

Example:
  tsubone get members 0192c3a4-...
  tsubone get parties bbq --json`,
		Args: cobra.ExactArgs(2),
		RunE: a.runGet,
	}
}

func (a *app) runGet(cmd *cobra.Command, args []string) error {
	c, closeFn, err := a.openClient()
	if err != nil {
		return err
	}
	defer closeFn()

	col, err := collection(c, args[0])
	if err != nil {
		return err
	}
	snap, err := col.Get(cmd.Context(), args[1])
	if err != nil {
		return opError(err)
	}

	if a.flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), snap, false)
	}
	return printSnapshot(cmd.OutOrStdout(), snap)
}
