package cli

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
	"github.com/roach88/ndmesh/internal/store"
)

// StoreOptions holds flags shared by the store subcommands.
type StoreOptions struct {
	*RootOptions
	DB string
}

// ArrayDetail is a stored array with its values.
type ArrayDetail struct {
	store.Record
	Values []any `json:"values"`
}

// VerifyEntry is the verification outcome of one stored array.
type VerifyEntry struct {
	Fingerprint string `json:"fingerprint"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
}

// VerifyResult holds the result of store verify.
type VerifyResult struct {
	Entries []VerifyEntry `json:"entries"`
	Passed  int           `json:"passed"`
	Failed  int           `json:"failed"`
}

// minPrefix is the shortest fingerprint prefix accepted on the command line.
const minPrefix = 6

// NewStoreCommand creates the store command and its subcommands.
func NewStoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the array store",
		Long: `Inspect the content-addressed array store.

Fingerprint arguments may be abbreviated to a unique prefix of at least
six hex digits.`,
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "store path (default store.path)")

	cmd.AddCommand(newStoreListCommand(opts))
	cmd.AddCommand(newStoreGetCommand(opts))
	cmd.AddCommand(newStoreVerifyCommand(opts))
	cmd.AddCommand(newStoreStatsCommand(opts))
	cmd.AddCommand(newStoreRemoveCommand(opts))

	return cmd
}

func newStoreListCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored arrays in insertion order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				records, err := st.ListArrays(ctx)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
				}
				if opts.Format == "json" {
					return f.Success(records)
				}
				w := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(w, "Store is empty.")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{strconv.FormatInt(r.Seq, 10), r.Fingerprint.String(), string(r.DType), formatShape(r.Shape)})
				}
				fmt.Fprintln(w, renderTable(
					[]string{"SEQ", "FINGERPRINT", "DTYPE", "SHAPE"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newStoreGetCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <fingerprint>",
		Short:         "Print a stored array",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				fp, err := resolveFingerprint(ctx, st, args[0])
				if err != nil {
					return failLookup(f, err)
				}
				rec, err := st.GetRecord(ctx, fp)
				if err != nil {
					return failLookup(f, err)
				}
				tensor, err := rec.Tensor()
				if err != nil {
					return f.Fail(ExitFailure, ErrCodeCorrupt, err.Error(), nil)
				}

				if opts.Format == "json" {
					return f.Success(ArrayDetail{Record: rec, Values: tensorValues(tensor)})
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "fingerprint: %s\n", rec.Fingerprint)
				fmt.Fprintf(w, "dtype:       %s\n", rec.DType)
				fmt.Fprintf(w, "shape:       %s\n", formatShape(rec.Shape))
				fmt.Fprintf(w, "seq:         %d\n", rec.Seq)
				fmt.Fprintf(w, "session:     %s\n", rec.SessionID)
				if s, ok := tensor.(fmt.Stringer); ok {
					fmt.Fprintf(w, "values:      %s\n", s.String())
				}
				return nil
			})
		},
	}
}

func newStoreVerifyCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [fingerprint...]",
		Short: "Re-hash stored arrays",
		Long: `Re-hash stored arrays and compare against their fingerprints.

With no arguments every stored array is verified.

Exit codes:
  0 - All arrays verified
  1 - One or more arrays no longer match
  2 - Command error`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				fps, err := verifyTargets(ctx, st, args)
				if err != nil {
					return failLookup(f, err)
				}

				result := VerifyResult{Entries: make([]VerifyEntry, 0, len(fps))}
				for _, fp := range fps {
					entry := VerifyEntry{Fingerprint: fp.String(), OK: true}
					if err := st.Verify(ctx, fp); err != nil {
						if !errors.Is(err, store.ErrCorrupt) && !errors.Is(err, store.ErrNotFound) {
							return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
						}
						entry.OK = false
						entry.Error = err.Error()
						result.Failed++
					} else {
						result.Passed++
					}
					result.Entries = append(result.Entries, entry)
				}
				return outputVerify(cmd, opts, result)
			})
		},
	}
}

func newStoreStatsCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Summarize store contents",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				stats, err := st.Stats(ctx)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
				}
				if opts.Format == "json" {
					return f.Success(stats)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "arrays:       %d\n", stats.Arrays)
				fmt.Fprintf(w, "memo entries: %d\n", stats.MemoEntries)
				fmt.Fprintf(w, "data bytes:   %d\n", stats.DataBytes)
				return nil
			})
		},
	}
}

func newStoreRemoveCommand(opts *StoreOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rm <fingerprint>",
		Short:         "Delete a stored array and the memo entries that produce it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				fp, err := resolveFingerprint(ctx, st, args[0])
				if err != nil {
					return failLookup(f, err)
				}
				deleted, err := st.DeleteArray(ctx, fp)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
				}
				if !deleted {
					return failLookup(f, fmt.Errorf("%w: %s", store.ErrNotFound, fp))
				}
				opts.logger().Info("array deleted", "fingerprint", fp.String())
				if opts.Format == "json" {
					return f.Success(map[string]any{"deleted": fp.String()})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", fp)
				return nil
			})
		},
	}
}

// withStore opens the store for the duration of fn.
func withStore(opts *StoreOptions, cmd *cobra.Command, fn func(context.Context, *store.Store, *OutputFormatter) error) error {
	f := opts.formatter(cmd)
	st, path, err := opts.openStore(opts.DB)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("open store %s: %v", path, err), nil)
	}
	defer st.Close()
	f.VerboseLog("Using store %s", path)
	return fn(cmd.Context(), st, f)
}

func failLookup(f *OutputFormatter, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}
	return f.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
}

// resolveFingerprint parses a full fingerprint or expands a unique prefix.
func resolveFingerprint(ctx context.Context, st *store.Store, text string) (digest.Fingerprint, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if len(text) == 2*digest.Size {
		return digest.Parse(text)
	}
	if len(text) < minPrefix {
		return digest.Fingerprint{}, fmt.Errorf("fingerprint prefix %q is shorter than %d characters", text, minPrefix)
	}

	records, err := st.ListArrays(ctx)
	if err != nil {
		return digest.Fingerprint{}, err
	}
	var matches []digest.Fingerprint
	for _, r := range records {
		if strings.HasPrefix(r.Fingerprint.String(), text) {
			matches = append(matches, r.Fingerprint)
		}
	}
	switch len(matches) {
	case 0:
		return digest.Fingerprint{}, fmt.Errorf("%w: %s", store.ErrNotFound, text)
	case 1:
		return matches[0], nil
	default:
		return digest.Fingerprint{}, fmt.Errorf("fingerprint prefix %q is ambiguous (%d matches)", text, len(matches))
	}
}

func verifyTargets(ctx context.Context, st *store.Store, args []string) ([]digest.Fingerprint, error) {
	if len(args) == 0 {
		records, err := st.ListArrays(ctx)
		if err != nil {
			return nil, err
		}
		fps := make([]digest.Fingerprint, len(records))
		for i, r := range records {
			fps[i] = r.Fingerprint
		}
		return fps, nil
	}
	fps := make([]digest.Fingerprint, len(args))
	for i, arg := range args {
		fp, err := resolveFingerprint(ctx, st, arg)
		if err != nil {
			return nil, err
		}
		fps[i] = fp
	}
	return fps, nil
}

func outputVerify(cmd *cobra.Command, opts *StoreOptions, result VerifyResult) error {
	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    ErrCodeCorrupt,
				Message: fmt.Sprintf("%d array(s) failed verification", result.Failed),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, e := range result.Entries {
			if e.OK {
				fmt.Fprintf(w, "✓ %s\n", e.Fingerprint)
			} else {
				fmt.Fprintf(w, "✗ %s\n  %s\n", e.Fingerprint, e.Error)
			}
		}
		fmt.Fprintf(w, "\nVerify Summary: %d ok, %d failed, %d total\n", result.Passed, result.Failed, len(result.Entries))
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d array(s) failed verification", result.Failed))
	}
	return nil
}

// tensorValues returns the row-major elements of t as JSON-safe values.
// Non-finite floats become the strings "NaN", "+Inf" and "-Inf".
func tensorValues(t nd.Tensor) []any {
	switch a := t.(type) {
	case *nd.Array[int8]:
		return anyValues(a)
	case *nd.Array[int16]:
		return anyValues(a)
	case *nd.Array[int32]:
		return anyValues(a)
	case *nd.Array[int64]:
		return anyValues(a)
	case *nd.Array[uint8]:
		return anyValues(a)
	case *nd.Array[uint16]:
		return anyValues(a)
	case *nd.Array[uint32]:
		return anyValues(a)
	case *nd.Array[uint64]:
		return anyValues(a)
	case *nd.Array[float32]:
		return anyValues(a)
	case *nd.Array[float64]:
		return anyValues(a)
	default:
		return nil
	}
}

func anyValues[T nd.Number](a *nd.Array[T]) []any {
	vals := a.Values()
	out := make([]any, len(vals))
	isFloat := a.DType().IsFloat()
	for i, v := range vals {
		if isFloat {
			f := float64(v)
			switch {
			case math.IsNaN(f):
				out[i] = "NaN"
				continue
			case math.IsInf(f, 1):
				out[i] = "+Inf"
				continue
			case math.IsInf(f, -1):
				out[i] = "-Inf"
				continue
			}
		}
		out[i] = v
	}
	return out
}
