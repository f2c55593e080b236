package gridspec

import (
	"fmt"
	"math"

	"cuelang.org/go/cue/token"

	"github.com/roach88/ndmesh/internal/mesh"
	"github.com/roach88/ndmesh/internal/nd"
)

// MaxAxisLength bounds the number of coordinates a single axis may expand to.
const MaxAxisLength = 1 << 20

// MaxPoints bounds the number of grid points a Spec may describe.
const MaxPoints = 1 << 24

// Spec is one named grid definition.
type Spec struct {
	Name     string `json:"name" yaml:"-"`
	Indexing string `json:"indexing" yaml:"indexing"`
	Sparse   bool   `json:"sparse" yaml:"sparse"`
	Axes     []Axis `json:"axes" yaml:"axes"`

	// Source is the file the grid was loaded from.
	Source string `json:"-" yaml:"-"`

	pos token.Pos
}

// Axis describes the coordinates along one grid axis.
type Axis struct {
	Name     string        `json:"name,omitempty" yaml:"name"`
	Values   []float64     `json:"values,omitempty" yaml:"values"`
	Linspace *LinspaceAxis `json:"linspace,omitempty" yaml:"linspace"`
	Arange   *ArangeAxis   `json:"arange,omitempty" yaml:"arange"`

	pos token.Pos
}

// LinspaceAxis is num evenly spaced values from start to stop.
type LinspaceAxis struct {
	Start    float64 `json:"start" yaml:"start"`
	Stop     float64 `json:"stop" yaml:"stop"`
	Num      int     `json:"num" yaml:"num"`
	Endpoint *bool   `json:"endpoint,omitempty" yaml:"endpoint"`
}

// ArangeAxis is start, start+step, ... excluding stop.
type ArangeAxis struct {
	Start float64  `json:"start" yaml:"start"`
	Stop  float64  `json:"stop" yaml:"stop"`
	Step  *float64 `json:"step,omitempty" yaml:"step"`
}

// SpecError reports an invalid grid definition.
type SpecError struct {
	File    string
	Field   string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *SpecError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (s *Spec) errorf(field string, pos token.Pos, format string, args ...any) *SpecError {
	if !pos.IsValid() {
		pos = s.pos
	}
	return &SpecError{
		File:    s.Source,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
	}
}

// ApplyDefaults fills the fields the CUE schema would default. Specs decoded
// from YAML or built in Go need it; for CUE specs it is a no-op.
func (s *Spec) ApplyDefaults() {
	if s.Indexing == "" {
		s.Indexing = "ij"
	}
	for i := range s.Axes {
		if l := s.Axes[i].Linspace; l != nil && l.Endpoint == nil {
			endpoint := true
			l.Endpoint = &endpoint
		}
		if a := s.Axes[i].Arange; a != nil && a.Step == nil {
			step := 1.0
			a.Step = &step
		}
	}
}

// Validate checks the spec without materializing it beyond axis lengths.
func (s *Spec) Validate() error {
	prefix := "grid." + s.Name
	if s.Name == "" {
		return s.errorf("grid", token.NoPos, "name is required")
	}
	if _, err := mesh.ParseIndexing(s.Indexing); err != nil {
		return s.errorf(prefix+".indexing", token.NoPos, "must be \"ij\" or \"xy\", got %q", s.Indexing)
	}
	if len(s.Axes) == 0 {
		return s.errorf(prefix+".axes", token.NoPos, "at least one axis is required")
	}

	points := 1
	for i, ax := range s.Axes {
		field := fmt.Sprintf("%s.axes[%d]", prefix, i)

		sources := 0
		if ax.Values != nil {
			sources++
		}
		if ax.Linspace != nil {
			sources++
		}
		if ax.Arange != nil {
			sources++
		}
		if sources != 1 {
			return s.errorf(field, ax.pos, "exactly one of values, linspace or arange is required, got %d", sources)
		}

		for j, v := range ax.Values {
			if !isFinite(v) {
				return s.errorf(field, ax.pos, "values[%d] must be finite, got %v", j, v)
			}
		}
		if l := ax.Linspace; l != nil && !(isFinite(l.Start) && isFinite(l.Stop)) {
			return s.errorf(field, ax.pos, "linspace bounds must be finite")
		}

		n, err := ax.length()
		if err != nil {
			return s.errorf(field, ax.pos, "%v", err)
		}
		if n > MaxAxisLength {
			return s.errorf(field, ax.pos, "axis expands to %d values, limit is %d", n, MaxAxisLength)
		}
		if n > 0 && points > MaxPoints/n {
			return s.errorf(prefix+".axes", token.NoPos, "grid exceeds %d points", MaxPoints)
		}
		points *= n
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// length returns the number of coordinates without allocating them.
func (ax Axis) length() (int, error) {
	switch {
	case ax.Values != nil:
		return len(ax.Values), nil
	case ax.Linspace != nil:
		if ax.Linspace.Num < 0 {
			return 0, fmt.Errorf("linspace num must be non-negative, got %d", ax.Linspace.Num)
		}
		return ax.Linspace.Num, nil
	default:
		step := 1.0
		if ax.Arange.Step != nil {
			step = *ax.Arange.Step
		}
		if step == 0 {
			return 0, fmt.Errorf("arange step must be non-zero")
		}
		span := (ax.Arange.Stop - ax.Arange.Start) / step
		if math.IsNaN(span) {
			return 0, fmt.Errorf("arange bounds must be finite")
		}
		if span <= 0 {
			return 0, nil
		}
		if span > MaxAxisLength {
			return MaxAxisLength + 1, nil
		}
		return int(math.Ceil(span)), nil
	}
}

// values materializes the axis coordinates.
func (ax Axis) values() ([]float64, error) {
	switch {
	case ax.Values != nil:
		return append([]float64(nil), ax.Values...), nil
	case ax.Linspace != nil:
		endpoint := ax.Linspace.Endpoint == nil || *ax.Linspace.Endpoint
		return mesh.Linspace(ax.Linspace.Start, ax.Linspace.Stop, ax.Linspace.Num, endpoint)
	default:
		step := 1.0
		if ax.Arange.Step != nil {
			step = *ax.Arange.Step
		}
		return mesh.ArangeStep(ax.Arange.Start, ax.Arange.Stop, step)
	}
}

// Sequences validates the spec and returns the coordinates of each axis.
func (s *Spec) Sequences() ([][]float64, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	seqs := make([][]float64, len(s.Axes))
	for i, ax := range s.Axes {
		vals, err := ax.values()
		if err != nil {
			return nil, s.errorf(fmt.Sprintf("grid.%s.axes[%d]", s.Name, i), ax.pos, "%v", err)
		}
		seqs[i] = vals
	}
	return seqs, nil
}

// Shape returns the dense output shape without building the grid.
func (s *Spec) Shape() ([]int, error) {
	seqs, err := s.Sequences()
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(seqs))
	for i, seq := range seqs {
		shape[i] = len(seq)
	}
	if s.Indexing == "xy" && len(shape) > 1 {
		shape[0], shape[1] = shape[1], shape[0]
	}
	return shape, nil
}

// Build materializes the grid: one float64 array per axis.
func (s *Spec) Build() ([]*nd.Array[float64], error) {
	seqs, err := s.Sequences()
	if err != nil {
		return nil, err
	}
	ix, err := mesh.ParseIndexing(s.Indexing)
	if err != nil {
		return nil, err
	}
	return mesh.Grid(seqs, mesh.WithIndexing(ix), mesh.WithSparse(s.Sparse))
}
