// Package cli implements the tsubone command-line interface. Every
// subcommand attaches the SQLite remote, drives it through a sync-layer
// client and detaches before returning.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kagucho/tsubonesystem3-sub000/internal/paths"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// app is the state of one invocation, shared by the subcommands.
type app struct {
	flags     rootFlags
	configDir string
	config    types.Config
	logger    *slog.Logger
}

// NewRootCmd creates the top-level "tsubone" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: slog.Default()}
	root := &cobra.Command{
		Use:   "tsubone",
		Short: "Club membership records kept in sync across related tables",
		Long: `tsubone manages members, clubs, officers, mails and parties. Relations
between them are kept symmetric: adding a member to a club also lists the
club on the member.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/"+paths.DefaultDataDirName+")")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(a.newInitCmd())
	root.AddCommand(a.newGetCmd())
	root.AddCommand(a.newListCmd())
	root.AddCommand(a.newCreateCmd())
	root.AddCommand(a.newUpdateCmd())
	root.AddCommand(a.newDeleteCmd())
	root.AddCommand(a.newWatchCmd())

	return root
}

// Execute runs the CLI against the process arguments and returns the exit
// code. An interrupt cancels the running command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "tsubone:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// setup loads the configuration and the logger before any subcommand runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return sysError(err)
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return sysError(fmt.Errorf("resolve data dir: %w", err))
	}

	a.configDir = configDir
	a.config = types.Config{
		Backend:  v.GetString(cfgKeyBackend),
		DataDir:  dataDir,
		LogLevel: v.GetString(cfgKeyLogLevel),
	}
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("%s: %w", paths.ConfigFile(configDir), err)
	}

	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: a.config.Level()}))
	a.logger.Debug("configuration loaded", "config_dir", configDir, "data_dir", dataDir)
	return nil
}

// exitError carries the exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func sysError(err error) error {
	return &exitError{code: exitSysError, err: err}
}

// userErrors are the sentinels caused by what the user asked for.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrInvalidID,
	types.ErrInvalidData,
	types.ErrDuplicateKey,
	types.ErrTableNotFound,
}

// opError classifies an error returned by a sync-layer operation.
func opError(err error) error {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return sysError(err)
}

// exitCode maps an error to an exit code. Errors not marked otherwise,
// including cobra's argument and flag errors, are user errors.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}
