package cli

import (
	"github.com/spf13/cobra"
)

func (a *app) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <table>",
		Short: "List the entities of a table",
		Long: `List prints every entity of a table restricted to the fields the table
shows in lists, in the order the entities were created.`,
		Args: cobra.ExactArgs(1),
		RunE: a.runList,
	}
}

func (a *app) runList(cmd *cobra.Command, args []string) error {
	c, closeFn, err := a.openClient()
	if err != nil {
		return err
	}
	defer closeFn()

	col, err := collection(c, args[0])
	if err != nil {
		return err
	}
	list, err := col.All(cmd.Context())
	if err != nil {
		return opError(err)
	}

	if a.flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), list, false)
	}
	return printList(cmd.OutOrStdout(), col.Name(), list)
}
