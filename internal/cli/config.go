package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ndmesh/internal/config"
)

// NewConfigCommand creates the config command and its subcommands.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))

	return cmd
}

func newConfigInitCommand(opts *RootOptions) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:           "init",
		Short:         "Create a sample configuration file",
		Args:          cobra.NoArgs,
		Annotations:   map[string]string{skipConfigLoad: "true"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				target = opts.ConfigPath
			}
			var err error
			if target == "" {
				target, err = config.DefaultPath()
				if err != nil {
					return WrapExitError(ExitCommandError, "determine default config path", err)
				}
			} else if target, err = config.ExpandPath(target); err != nil {
				return WrapExitError(ExitCommandError, "resolve config path", err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("config file already exists at %s (use --overwrite to replace it)", target))
				} else if !os.IsNotExist(err) {
					return WrapExitError(ExitCommandError, "check config path", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return WrapExitError(ExitCommandError, "create sample config", err)
			}

			if opts.Format == "json" {
				return opts.formatter(cmd).Success(map[string]string{"path": target})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite existing configuration if present")
	return cmd
}

// ConfigReport is the JSON payload of config show.
type ConfigReport struct {
	Path   string         `json:"path"`
	Exists bool           `json:"exists"`
	Config *config.Config `json:"config"`
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Validate and print the effective configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load again to report the path; the root command already
			// rejected an invalid file.
			cfg, path, exists, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}

			if opts.Format == "json" {
				return opts.formatter(cmd).Success(ConfigReport{Path: path, Exists: exists, Config: cfg})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "# Config file did not exist; defaults were used")
			}
			data, err := cfg.Encode()
			if err != nil {
				return WrapExitError(ExitCommandError, "encode config", err)
			}
			_, err = out.Write(data)
			return err
		},
	}
}
