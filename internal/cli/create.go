package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <table> [field=value | field:=json]...",
		Short: "Create an entity",
		Long: `Create inserts an entity built from the given assignments. field=value
sets a string; field:=json sets any JSON value. Members, clubs and officers
get a generated key when none is given.

Example:
  tsubone create members nickname=kagucho entrance:=2017
  tsubone create clubs id=prog name=Prog members:='["<member key>"]'
  tsubone create parties name=bbq attendances:='{"<member key>": true}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.runCreate,
	}
}

func (a *app) runCreate(cmd *cobra.Command, args []string) error {
	props, err := parseAssignments(args[1:])
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
	key, err := col.Create(cmd.Context(), props)
	if err != nil {
		return opError(err)
	}

	if a.flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), map[string]string{"table": col.Name(), "key": key}, false)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s/%s\n", col.Name(), key)
	return nil
}
