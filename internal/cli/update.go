package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <table> <key> <field=value | field:=json>...",
		Short: "Update entity fields",
		Long: `Update applies the given assignments to an entity. A relation field
replaces the whole relation; the related entities are updated to match.

Example:
  tsubone update members <key> tel=090-0000-0000 ob:=true
  tsubone update members <key> clubs:='["prog"]'`,
		Args: cobra.MinimumNArgs(2),
		RunE: a.runUpdate,
	}
}

func (a *app) runUpdate(cmd *cobra.Command, args []string) error {
	if len(args) < 3 {
		return errors.New("update: at least one field assignment is required")
	}
	props, err := parseAssignments(args[2:])
	if err != nil {
		return err
	}

	c, closeFn, err := a.openClient()
	if err != nil {
		return err
	}
	defer closeFn()

	col, err := collection(c, args[0])
	if err != nil {
		return err
	}
	if err := col.Patch(cmd.Context(), args[1], props); err != nil {
		return opError(err)
	}

	if a.flags.jsonMode {
		snap, err := col.Get(cmd.Context(), args[1])
		if err != nil {
			return opError(err)
		}
		return printJSON(cmd.OutOrStdout(), snap, false)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s/%s\n", col.Name(), args[1])
	return nil
}
