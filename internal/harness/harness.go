package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
	"github.com/roach88/ndmesh/internal/store"
)

// Harness holds the state of one scenario execution.
type Harness struct {
	store  *store.Store
	clock  *logicalClock
	logger *slog.Logger

	grids        []*nd.Array[float64]
	arrays       map[string]*nd.Array[int64]
	fingerprints map[string]digest.Fingerprint
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger for execution steps. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store for isolation.
//
// Execution flow:
// 1. Build the grid, if any, and trace each output
// 2. Build each array in order, store it, and trace it
// 3. Evaluate assertions, tracing each outcome
//
// An error is returned only when the scenario cannot be executed; failed
// assertions are reported in Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a caller-supplied context for store access.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:        st,
		clock:        &logicalClock{},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		arrays:       make(map[string]*nd.Array[int64]),
		fingerprints: make(map[string]digest.Fingerprint),
	}
	for _, opt := range opts {
		opt(h)
	}

	result := NewResult()

	if scenario.Grid != nil {
		if err := h.executeGrid(scenario, result); err != nil {
			return nil, fmt.Errorf("failed to build grid: %w", err)
		}
	}

	if err := h.executeArrays(ctx, scenario.Arrays, result); err != nil {
		return nil, fmt.Errorf("failed to build arrays: %w", err)
	}

	actx := &AssertionContext{
		Ctx:          ctx,
		Store:        st,
		Grids:        h.grids,
		Arrays:       h.arrays,
		Fingerprints: h.fingerprints,
	}
	for _, assertion := range scenario.Assertions {
		err := evaluateAssertion(assertion, result.Trace, actx)
		result.AddAssertionTrace(assertion.Type, err == nil, h.clock.Next())
		if err != nil {
			result.AddError(err.Error())
		}
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (h *Harness) executeGrid(scenario *Scenario, result *Result) error {
	grids, err := scenario.Grid.Build()
	if err != nil {
		return err
	}
	h.grids = grids
	for i, g := range grids {
		result.AddMeshTrace(i, g.Shape(), h.clock.Next())
	}
	h.logger.Debug("grid built",
		"scenario", scenario.Name,
		"outputs", len(grids),
	)
	return nil
}

func (h *Harness) executeArrays(ctx context.Context, specs []ArraySpec, result *Result) error {
	for i, spec := range specs {
		a, err := h.buildArray(spec)
		if err != nil {
			return fmt.Errorf("arrays[%d] %q: %w", i, spec.Name, err)
		}

		fp, inserted, err := h.store.PutArray(ctx, a)
		if err != nil {
			return fmt.Errorf("arrays[%d] %q: %w", i, spec.Name, err)
		}

		h.arrays[spec.Name] = a
		h.fingerprints[spec.Name] = fp

		op, _, _ := spec.source()
		result.AddArrayTrace(spec.Name, op, a.Shape(), inserted, h.clock.Next())
		h.logger.Debug("array built",
			"name", spec.Name,
			"op", op,
			"fingerprint", fp.Short(),
		)
	}
	return nil
}

func (h *Harness) buildArray(spec ArraySpec) (*nd.Array[int64], error) {
	op, ref, _ := spec.source()

	var (
		a   *nd.Array[int64]
		err error
	)
	switch op {
	case "arange":
		a = nd.Arange[int64](*spec.Arange)
	case "values":
		a, err = nd.FromSlice(spec.Values)
	case "copy_of":
		a = h.arrays[ref].Copy()
	case "view_of":
		a = h.arrays[ref]
	case "reverse":
		src := h.arrays[ref]
		flat, ferr := src.Reshape(-1)
		if ferr != nil {
			return nil, ferr
		}
		a, err = flat.Reverse().Reshape(src.Shape()...)
	default:
		return nil, fmt.Errorf("no source")
	}
	if err != nil {
		return nil, err
	}

	if spec.Shape != nil {
		return a.Reshape(spec.Shape...)
	}
	if op == "view_of" {
		// Distinct header over the same storage.
		return a.Reshape(a.Shape()...)
	}
	return a, nil
}
