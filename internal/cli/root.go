package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/ndmesh/internal/config"
	"github.com/roach88/ndmesh/internal/store"
)

// skipConfigLoad marks commands that must run without a readable config.
const skipConfigLoad = "skipConfigLoad"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Populated by the root command before a subcommand runs. Commands
	// built directly (as in tests) fall back to defaults.
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ndmesh CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ndmesh",
		Short: "ndmesh - coordinate grids and array fingerprints",
		Long: `Build N-dimensional coordinate grids from 1-D sequences and compute
content fingerprints of arrays that ignore memory layout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default $XDG_CONFIG_HOME/ndmesh/config.toml)")

	// Add subcommands
	cmd.AddCommand(NewMeshCommand(opts))
	cmd.AddCommand(NewFingerprintCommand(opts))
	cmd.AddCommand(NewStoreCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// load reads the config file and builds the logger. Flags the user set
// explicitly win over the file.
func (o *RootOptions) load(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfigLoad] == "true" {
		return o.validateFormat()
	}

	cfg, path, exists, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if !cmd.Flags().Changed("format") {
		o.Format = cfg.Output.Format
	}
	if err := o.validateFormat(); err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Logging, cmd.ErrOrStderr(), o.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "configure logging", err)
	}
	o.Config = cfg
	o.Logger = logger
	o.Logger.Debug("config loaded", "path", path, "exists", exists)
	return nil
}

func (o *RootOptions) validateFormat() error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}
	return nil
}

// config returns the loaded configuration or the built-in defaults.
func (o *RootOptions) config() *config.Config {
	if o.Config != nil {
		return o.Config
	}
	cfg := config.Default()
	return &cfg
}

// logger returns the configured logger or one that discards everything.
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// formatter builds the OutputFormatter for cmd. Verbose logs go to stderr
// to avoid corrupting JSON.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openStore opens the store at path, or the configured store when path is
// empty.
func (o *RootOptions) openStore(path string) (*store.Store, string, error) {
	if path == "" {
		path = o.config().Store.Path
	} else if path != ":memory:" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, "", err
		}
		path = expanded
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, path, fmt.Errorf("create store directory: %w", err)
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, path, err
	}
	o.logger().Debug("store opened", "path", path, "session", st.SessionID())
	return st, path, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
