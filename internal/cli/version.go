package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/kagucho/tsubonesystem3-sub000"

// Version is the release version, overridden at link time by the build.
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tsubone version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "tsubone v%s\nmodule: %s\n", Version, modulePath)
			return nil
		},
	}
}
