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
	"github.com/roach88/ndmesh/internal/gridspec"
	"github.com/roach88/ndmesh/internal/memo"
	"github.com/roach88/ndmesh/internal/mesh"
	"github.com/roach88/ndmesh/internal/nd"
)

// MeshOptions holds flags for the mesh command.
type MeshOptions struct {
	*RootOptions
	Axes      []string // inline axes, each a comma-separated list
	Indexing  string
	Sparse    bool
	Name      string // grid to build when a file defines several
	Points    bool   // also print the (M, N) coordinate matrix
	Cache     bool   // memoize the coordinate matrix in the store
	DB        string
	Precision int
}

// MeshOutput is one coordinate array of a grid.
type MeshOutput struct {
	Index       int       `json:"index"`
	Axis        string    `json:"axis,omitempty"`
	Shape       []int     `json:"shape"`
	Fingerprint string    `json:"fingerprint"`
	Values      []float64 `json:"values"`
}

// PointsOutput is the coordinate matrix of a dense grid.
type PointsOutput struct {
	Shape       []int     `json:"shape"`
	Fingerprint string    `json:"fingerprint"`
	Values      []float64 `json:"values"`
	Cached      bool      `json:"cached"`
}

// MeshResult holds the outputs of one grid.
type MeshResult struct {
	Name     string        `json:"name"`
	Indexing string        `json:"indexing"`
	Sparse   bool          `json:"sparse"`
	Outputs  []MeshOutput  `json:"outputs"`
	Points   *PointsOutput `json:"points,omitempty"`
}

// MeshReport is the JSON payload of the mesh command.
type MeshReport struct {
	Grids []MeshResult `json:"grids"`
}

// NewMeshCommand creates the mesh command.
func NewMeshCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MeshOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mesh [grid-file]",
		Short: "Build coordinate grids",
		Long: `Build coordinate grids from 1-D sequences.

Sequences come either from a grid file (CUE or YAML) or from repeated
--axis flags. Each output array varies only along its own axis.

Exit codes:
  0 - Grids built
  2 - Command error (invalid grid, unreadable file, etc.)

Examples:
  ndmesh mesh --axis 0,0,1 --axis 1,2,3 --axis 23,42
  ndmesh mesh grids.cue --name plane
  ndmesh mesh --axis 1,2,3 --axis 10,20 --indexing xy --points
  ndmesh mesh grids.yaml --points --cache --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMesh(opts, args, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Axes, "axis", nil, "comma-separated axis values (repeatable)")
	cmd.Flags().StringVar(&opts.Indexing, "indexing", "ij", "output indexing (ij|xy)")
	cmd.Flags().BoolVar(&opts.Sparse, "sparse", false, "return broadcastable views instead of dense arrays")
	cmd.Flags().StringVar(&opts.Name, "name", "", "grid to build from the file (default all)")
	cmd.Flags().BoolVar(&opts.Points, "points", false, "print the coordinate matrix of each grid")
	cmd.Flags().BoolVar(&opts.Cache, "cache", false, "memoize the coordinate matrix in the store")
	cmd.Flags().StringVar(&opts.DB, "db", "", "store path for --cache (default store.path)")
	cmd.Flags().IntVar(&opts.Precision, "precision", 0, "significant digits (default output.precision)")

	return cmd
}

func runMesh(opts *MeshOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	specs, err := meshSpecs(opts, args, cmd)
	if err != nil {
		var specErr *gridspec.SpecError
		if errors.As(err, &specErr) {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidGrid, specErr.Error(), specErrorDetails(specErr))
		}
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}

	var points *memo.Func[float64, float64]
	if opts.Points {
		backend, closeFn, err := meshBackend(opts)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("open store: %v", err), nil)
		}
		defer closeFn()
		points = memo.Wrap("mesh.points", coordinateMatrix, backend, memo.WithLogger(opts.logger()))
	}

	report := MeshReport{Grids: make([]MeshResult, 0, len(specs))}
	for i := range specs {
		result, err := buildMesh(cmd.Context(), &specs[i], points)
		if err != nil {
			var specErr *gridspec.SpecError
			if errors.As(err, &specErr) {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidGrid, specErr.Error(), specErrorDetails(specErr))
			}
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		}
		formatter.VerboseLog("Built grid %s with %d output(s)", result.Name, len(result.Outputs))
		report.Grids = append(report.Grids, result)
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	return outputMeshText(cmd, opts, report)
}

// meshSpecs returns the grids selected by args and flags.
func meshSpecs(opts *MeshOptions, args []string, cmd *cobra.Command) ([]gridspec.Spec, error) {
	if len(args) == 1 && len(opts.Axes) > 0 {
		return nil, errors.New("use either a grid file or --axis, not both")
	}
	if len(args) == 0 && len(opts.Axes) == 0 {
		return nil, errors.New("a grid file or at least one --axis is required")
	}

	if len(args) == 0 {
		spec := gridspec.Spec{Name: "cli", Indexing: opts.Indexing, Sparse: opts.Sparse}
		for i, text := range opts.Axes {
			values, err := parseAxisFlag(text)
			if err != nil {
				return nil, fmt.Errorf("--axis %d: %w", i, err)
			}
			spec.Axes = append(spec.Axes, gridspec.Axis{Values: values})
		}
		spec.ApplyDefaults()
		return []gridspec.Spec{spec}, nil
	}

	specs, err := gridspec.LoadFile(args[0])
	if err != nil {
		return nil, err
	}
	if opts.Name != "" {
		var selected []gridspec.Spec
		for _, s := range specs {
			if s.Name == opts.Name {
				selected = append(selected, s)
			}
		}
		if len(selected) == 0 {
			return nil, fmt.Errorf("grid %q not found in %s", opts.Name, args[0])
		}
		specs = selected
	}
	for i := range specs {
		if cmd.Flags().Changed("indexing") {
			specs[i].Indexing = opts.Indexing
		}
		if cmd.Flags().Changed("sparse") {
			specs[i].Sparse = opts.Sparse
		}
	}
	return specs, nil
}

// parseAxisFlag parses "0,0.5,1" into finite float64 values. An empty
// string is an empty axis.
func parseAxisFlag(text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []float64{}, nil
	}
	fields := strings.Split(text, ",")
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("value %d: must be finite", i)
		}
		values[i] = v
	}
	return values, nil
}

func meshBackend(opts *MeshOptions) (memo.Backend, func(), error) {
	if !opts.Cache {
		return memo.NewMemoryBackend(), func() {}, nil
	}
	st, _, err := opts.openStore(opts.DB)
	if err != nil {
		return nil, nil, err
	}
	return memo.StoreBackend{Store: st}, func() { _ = st.Close() }, nil
}

func buildMesh(ctx context.Context, spec *gridspec.Spec, points *memo.Func[float64, float64]) (MeshResult, error) {
	grids, err := spec.Build()
	if err != nil {
		return MeshResult{}, err
	}

	result := MeshResult{
		Name:     spec.Name,
		Indexing: spec.Indexing,
		Sparse:   spec.Sparse,
		Outputs:  make([]MeshOutput, len(grids)),
	}
	for i, g := range grids {
		fp, err := digest.Of(g)
		if err != nil {
			return MeshResult{}, err
		}
		result.Outputs[i] = MeshOutput{
			Index:       i,
			Axis:        spec.Axes[i].Name,
			Shape:       g.Shape(),
			Fingerprint: fp.String(),
			Values:      g.Values(),
		}
	}

	if points == nil {
		return result, nil
	}
	if spec.Sparse {
		return MeshResult{}, fmt.Errorf("grid %s: --points needs a dense grid", spec.Name)
	}
	seqs, err := spec.Sequences()
	if err != nil {
		return MeshResult{}, err
	}
	packed, err := packAxes(seqs, spec.Indexing)
	if err != nil {
		return MeshResult{}, err
	}
	hitsBefore := points.Stats().Hits
	matrix, err := points.Call(ctx, packed)
	if err != nil {
		return MeshResult{}, err
	}
	fp, err := digest.Of(matrix)
	if err != nil {
		return MeshResult{}, err
	}
	result.Points = &PointsOutput{
		Shape:       matrix.Shape(),
		Fingerprint: fp.String(),
		Values:      matrix.Values(),
		Cached:      points.Stats().Hits > hitsBefore,
	}
	return result, nil
}

// packAxes encodes the inputs of a coordinate matrix as one array:
// [indexing, n, len_1..len_n, values_1.., values_n..] with indexing 0 for
// ij and 1 for xy. Equal inputs pack to equal fingerprints.
func packAxes(seqs [][]float64, indexing string) (*nd.Array[float64], error) {
	ix, err := mesh.ParseIndexing(indexing)
	if err != nil {
		return nil, err
	}
	packed := []float64{float64(ix), float64(len(seqs))}
	for _, s := range seqs {
		packed = append(packed, float64(len(s)))
	}
	for _, s := range seqs {
		packed = append(packed, s...)
	}
	return nd.FromSlice(packed)
}

func unpackAxes(a *nd.Array[float64]) ([][]float64, mesh.Indexing, error) {
	flat := a.Values()
	if len(flat) < 2 {
		return nil, 0, fmt.Errorf("packed axes: header truncated")
	}
	ix := mesh.Indexing(flat[0])
	if ix != mesh.IndexingIJ && ix != mesh.IndexingXY {
		return nil, 0, fmt.Errorf("packed axes: unknown indexing %v", flat[0])
	}
	n := int(flat[1])
	if n < 1 || len(flat) < 2+n {
		return nil, 0, fmt.Errorf("packed axes: bad axis count %v", flat[1])
	}
	seqs := make([][]float64, n)
	next := 2 + n
	for i := range seqs {
		l := int(flat[2+i])
		if l < 0 || next+l > len(flat) {
			return nil, 0, fmt.Errorf("packed axes: axis %d overruns input", i)
		}
		seqs[i] = flat[next : next+l]
		next += l
	}
	if next != len(flat) {
		return nil, 0, fmt.Errorf("packed axes: %d trailing values", len(flat)-next)
	}
	return seqs, ix, nil
}

// coordinateMatrix is the memoized function behind --points.
func coordinateMatrix(packed *nd.Array[float64]) (*nd.Array[float64], error) {
	seqs, ix, err := unpackAxes(packed)
	if err != nil {
		return nil, err
	}
	grids, err := mesh.Grid(seqs, mesh.WithIndexing(ix))
	if err != nil {
		return nil, err
	}
	return mesh.Points(grids)
}

func specErrorDetails(err *gridspec.SpecError) map[string]any {
	details := map[string]any{"field": err.Field}
	if err.File != "" {
		details["file"] = err.File
	}
	if err.Pos.IsValid() {
		details["line"] = err.Pos.Line()
	}
	return details
}

func outputMeshText(cmd *cobra.Command, opts *MeshOptions, report MeshReport) error {
	w := cmd.OutOrStdout()
	precision := opts.Precision
	if precision <= 0 {
		precision = opts.config().Output.Precision
	}

	for i, g := range report.Grids {
		if i > 0 {
			fmt.Fprintln(w)
		}
		layout := "dense"
		if g.Sparse {
			layout = "sparse"
		}
		fmt.Fprintf(w, "grid %s (%s, %s)\n", g.Name, g.Indexing, layout)
		for _, out := range g.Outputs {
			label := fmt.Sprintf("[%d]", out.Index)
			if out.Axis != "" {
				label += " " + out.Axis
			}
			fmt.Fprintf(w, "  %s shape=%s fingerprint=%s\n", label, formatShape(out.Shape), out.Fingerprint[:12])
			fmt.Fprintf(w, "    %s\n", formatValues(out.Values, out.Shape, precision))
		}
		if p := g.Points; p != nil {
			cached := ""
			if p.Cached {
				cached = " (cached)"
			}
			fmt.Fprintf(w, "  points shape=%s fingerprint=%s%s\n", formatShape(p.Shape), p.Fingerprint[:12], cached)
			fmt.Fprintf(w, "    %s\n", formatValues(p.Values, p.Shape, precision))
		}
	}
	return nil
}
