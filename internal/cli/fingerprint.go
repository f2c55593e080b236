package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
	"github.com/roach88/ndmesh/internal/store"
)

// FingerprintOptions holds flags for the fingerprint command.
type FingerprintOptions struct {
	*RootOptions
	Persist bool
	DB      string
}

// ArrayFile is the on-disk form of an array: YAML or JSON with a dtype,
// an optional shape and row-major data. A missing shape means 1-D; an
// empty shape means a 0-d array holding one value.
type ArrayFile struct {
	DType string `yaml:"dtype"`
	Shape []int  `yaml:"shape"`
	Data  []any  `yaml:"data"`
}

// FingerprintEntry is the fingerprint of one array file.
type FingerprintEntry struct {
	Path        string   `json:"path"`
	Fingerprint string   `json:"fingerprint"`
	DType       nd.DType `json:"dtype"`
	Shape       []int    `json:"shape"`
	Stored      *bool    `json:"stored,omitempty"`
}

// NewFingerprintCommand creates the fingerprint command.
func NewFingerprintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FingerprintOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fingerprint <array-file>...",
		Short: "Compute array fingerprints",
		Long: `Compute the content fingerprint of each array file.

An array file is YAML or JSON:

  dtype: int64
  shape: [3, 2]
  data: [0, 1, 2, 3, 4, 5]

Equal dtype, shape and values give equal fingerprints regardless of how the
array was produced. With --persist the arrays are also written to the store.

Examples:
  ndmesh fingerprint a.yaml b.json
  ndmesh fingerprint a.yaml --persist --db ./arrays.db`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("persist") {
				opts.Persist = opts.config().Store.Persist
			}
			return runFingerprint(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "store the arrays (default store.persist)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "store path (default store.path)")

	return cmd
}

func runFingerprint(opts *FingerprintOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	var st *store.Store
	if opts.Persist {
		var err error
		var path string
		st, path, err = opts.openStore(opts.DB)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("open store %s: %v", path, err), nil)
		}
		defer st.Close()
		formatter.VerboseLog("Persisting to %s", path)
	}

	loaded, err := loadArrays(ctx, paths)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	entries := make([]FingerprintEntry, 0, len(paths))
	for i, l := range loaded {
		path := paths[i]
		if l.err != nil {
			code := ErrCodeInvalidInput
			if errors.Is(l.err, os.ErrNotExist) {
				code = ErrCodeNotFound
			}
			return formatter.Fail(ExitCommandError, code, l.err.Error(), map[string]any{"path": path})
		}

		entry := FingerprintEntry{
			Path:        path,
			Fingerprint: l.fp.String(),
			DType:       l.tensor.DType(),
			Shape:       l.tensor.Shape(),
		}
		// Stored in argument order so seq follows the command line.
		if st != nil {
			_, inserted, err := st.PutArray(ctx, l.tensor)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("store %s: %v", path, err), nil)
			}
			entry.Stored = &inserted
		}
		opts.logger().Debug("fingerprinted array", "path", path, "fingerprint", entry.Fingerprint)
		entries = append(entries, entry)
	}

	if opts.Format == "json" {
		return formatter.Success(entries)
	}

	w := cmd.OutOrStdout()
	for _, e := range entries {
		suffix := ""
		if e.Stored != nil {
			if *e.Stored {
				suffix = "  (stored)"
			} else {
				suffix = "  (already stored)"
			}
		}
		fmt.Fprintf(w, "%s  %s %s %s%s\n", e.Fingerprint, e.DType, formatShape(e.Shape), e.Path, suffix)
	}
	return nil
}

type loadedArray struct {
	tensor nd.Tensor
	fp     digest.Fingerprint
	err    error
}

// loadArrays reads and fingerprints the files concurrently. Per-file errors
// are kept in the result so the first failing argument is reported, not the
// first to finish.
func loadArrays(ctx context.Context, paths []string) ([]loadedArray, error) {
	loaded := make([]loadedArray, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tensor, err := ReadArrayFile(path)
			if err != nil {
				loaded[i].err = err
				return nil
			}
			fp, err := digest.Of(tensor)
			if err != nil {
				loaded[i].err = fmt.Errorf("%s: %w", path, err)
				return nil
			}
			loaded[i] = loadedArray{tensor: tensor, fp: fp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return loaded, nil
}

// ReadArrayFile loads an array file. "-" reads standard input.
func ReadArrayFile(path string) (nd.Tensor, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read array file: %w", err)
	}
	tensor, err := ParseArrayFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tensor, nil
}

// ParseArrayFile decodes YAML or JSON array data. Unknown fields are
// rejected.
func ParseArrayFile(data []byte) (nd.Tensor, error) {
	var file ArrayFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty array file")
		}
		return nil, fmt.Errorf("parse array file: %w", err)
	}

	dtype, err := nd.ParseDType(file.DType)
	if err != nil {
		return nil, err
	}
	flat, err := nd.FromAny(dtype, file.Data)
	if err != nil {
		return nil, err
	}
	if file.Shape == nil {
		return flat, nil
	}
	return nd.Decode(dtype, flat.Bytes(), file.Shape...)
}
