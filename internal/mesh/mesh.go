package mesh

import (
	"errors"
	"fmt"

	"github.com/roach88/ndmesh/internal/nd"
)

// ErrNoSequences is returned when no coordinate sequences are given.
var ErrNoSequences = errors.New("mesh: at least one coordinate sequence is required")

// Indexing selects the output axis convention.
type Indexing int

const (
	// IndexingIJ ("matrix") puts sequence i on output axis i.
	IndexingIJ Indexing = iota
	// IndexingXY ("cartesian") swaps the first two output axes when there
	// are at least two sequences.
	IndexingXY
)

// String returns "ij" or "xy".
func (ix Indexing) String() string {
	if ix == IndexingXY {
		return "xy"
	}
	return "ij"
}

// ParseIndexing converts "ij" or "xy" to an Indexing. Empty means ij.
func ParseIndexing(s string) (Indexing, error) {
	switch s {
	case "", "ij":
		return IndexingIJ, nil
	case "xy":
		return IndexingXY, nil
	default:
		return IndexingIJ, fmt.Errorf("mesh: unknown indexing %q (want ij or xy)", s)
	}
}

type options struct {
	indexing Indexing
	sparse   bool
}

// Option configures Grid.
type Option func(*options)

// WithIndexing selects ij (default) or xy indexing.
func WithIndexing(ix Indexing) Option {
	return func(o *options) { o.indexing = ix }
}

// WithSparse returns arrays that have size 1 on every axis except their
// own, ready for broadcasting, instead of fully tiled arrays.
func WithSparse(sparse bool) Option {
	return func(o *options) { o.sparse = sparse }
}

// ND builds a dense ij-indexed grid from the given sequences.
// With a single sequence the result is that sequence as a 1-D array.
func ND[T nd.Number](seqs ...[]T) ([]*nd.Array[T], error) {
	return Grid(seqs)
}

// Grid builds one array per sequence. Every dense output has the shape
// (len(seqs[0]), ..., len(seqs[N-1])), with the first two axes swapped
// under xy indexing.
func Grid[T nd.Number](seqs [][]T, opts ...Option) ([]*nd.Array[T], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	n := len(seqs)
	if n == 0 {
		return nil, ErrNoSequences
	}

	axes := make([]int, n)
	for i := range axes {
		axes[i] = i
	}
	if o.indexing == IndexingXY && n >= 2 {
		axes[0], axes[1] = 1, 0
	}

	shape := make([]int, n)
	for i, seq := range seqs {
		shape[axes[i]] = len(seq)
	}

	out := make([]*nd.Array[T], n)
	for i, seq := range seqs {
		unit := make([]int, n)
		for j := range unit {
			unit[j] = 1
		}
		unit[axes[i]] = len(seq)

		// FromSlice copies, so neither sparse nor dense outputs alias seq.
		col, err := nd.FromSlice(seq, unit...)
		if err != nil {
			return nil, fmt.Errorf("mesh: sequence %d: %w", i, err)
		}
		if o.sparse {
			out[i] = col
			continue
		}
		tiled, err := col.BroadcastTo(shape...)
		if err != nil {
			return nil, fmt.Errorf("mesh: sequence %d: %w", i, err)
		}
		out[i] = tiled.Copy()
	}
	return out, nil
}

// Points stacks a dense grid into an (M, N) array whose rows are the
// coordinate tuples of every grid position in row-major order.
func Points[T nd.Number](grids []*nd.Array[T]) (*nd.Array[T], error) {
	if len(grids) == 0 {
		return nil, ErrNoSequences
	}
	shape := grids[0].Shape()
	cols := make([][]T, len(grids))
	for i, g := range grids {
		if !sameShape(g.Shape(), shape) {
			return nil, fmt.Errorf("mesh: grid %d has shape %v, want %v: %w", i, g.Shape(), shape, nd.ErrShape)
		}
		cols[i] = g.Values()
	}

	m, n := grids[0].Size(), len(grids)
	data := make([]T, 0, m*n)
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			data = append(data, cols[col][row])
		}
	}
	return nd.FromSlice(data, m, n)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
