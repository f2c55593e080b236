package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ndmesh/internal/gridspec"
)

// GridSummary describes one valid grid definition.
type GridSummary struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Indexing string `json:"indexing"`
	Sparse   bool   `json:"sparse"`
	Shape    []int  `json:"shape"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool          `json:"valid"`
	Grids []GridSummary `json:"grids,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <grid-file|dir>",
		Short: "Validate grid definitions without building them",
		Long: `Validate CUE or YAML grid definitions without materializing the grids.

A directory is searched recursively for .cue, .yaml and .yml files. Grid
names must be unique across the directory.

Exit codes:
  0 - All grids valid
  1 - A grid definition is invalid
  2 - Command error (path not found, no grid files, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("path not found: %s", path), nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	var specs []gridspec.Spec
	if info.IsDir() {
		specs, err = gridspec.LoadDir(path)
	} else {
		specs, err = gridspec.LoadFile(path)
	}
	if err != nil {
		return outputValidationError(formatter, err)
	}

	result := ValidationResult{Valid: true, Grids: make([]GridSummary, 0, len(specs))}
	for i := range specs {
		s := &specs[i]
		shape, err := s.Shape()
		if err != nil {
			return outputValidationError(formatter, err)
		}
		formatter.VerboseLog("Validated grid %s from %s", s.Name, s.Source)
		result.Grids = append(result.Grids, GridSummary{
			Name:     s.Name,
			Source:   s.Source,
			Indexing: s.Indexing,
			Sparse:   s.Sparse,
			Shape:    shape,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	for _, g := range result.Grids {
		fmt.Fprintf(w, "  %s %s %s\n", g.Name, g.Indexing, formatShape(g.Shape))
	}
	fmt.Fprintf(w, "✓ %d grid(s) valid\n", len(result.Grids))
	return nil
}

// outputValidationError reports a load or validation failure. Invalid
// definitions exit 1; everything else is a command error.
func outputValidationError(formatter *OutputFormatter, err error) error {
	var specErr *gridspec.SpecError
	if !errors.As(err, &specErr) {
		code := ErrCodeGeneric
		if errors.Is(err, gridspec.ErrUnsupportedFile) {
			code = ErrCodeInvalidInput
		}
		return formatter.Fail(ExitCommandError, code, err.Error(), nil)
	}
	if specErr.Field == "load" {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, specErr.Error(), nil)
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false},
			Error: &CLIError{
				Code:    ErrCodeInvalidGrid,
				Message: specErr.Message,
				Details: specErrorDetails(specErr),
			},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	if specErr.Pos.IsValid() {
		fmt.Fprintf(formatter.Writer, "%s line %d\n", specErr.File, specErr.Pos.Line())
	} else if specErr.File != "" {
		fmt.Fprintln(formatter.Writer, specErr.File)
	}
	fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", ErrCodeInvalidGrid, specErr.Field, specErr.Message)

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, "validation failed")
}
