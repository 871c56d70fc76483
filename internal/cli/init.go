package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kagucho/tsubonesystem3-sub000/internal/paths"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/sqlite"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize tsubone storage",
		Long: `Create the configuration and data directories and the empty table files.
A --data-dir given to init is recorded in config.yaml.`,
		Args: cobra.NoArgs,
		RunE: a.runInit,
	}
}

func (a *app) runInit(cmd *cobra.Command, args []string) error {
	if a.flags.dataDir != "" {
		cfg := configFile{
			Backend:  a.config.Backend,
			DataDir:  a.config.DataDir,
			LogLevel: a.config.LogLevel,
		}
		if err := writeConfig(paths.ConfigFile(a.configDir), cfg); err != nil {
			return sysError(err)
		}
	}

	backend := sqlite.NewBackend(sqlite.WithLogger(a.logger))
	if err := backend.Attach(a.config); err != nil {
		return sysError(fmt.Errorf("initialize storage: %w", err))
	}
	if err := backend.Detach(); err != nil {
		return sysError(fmt.Errorf("finalize storage: %w", err))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "tsubone initialized successfully")
	fmt.Fprintln(out, "  config:", a.configDir)
	fmt.Fprintln(out, "  data:  ", a.config.DataDir)
	return nil
}
