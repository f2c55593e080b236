package harness

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
	"github.com/roach88/ndmesh/internal/store"
)

// DefaultTolerance is the absolute tolerance for mesh_values.
const DefaultTolerance = 1e-9

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Trace up to the failing assertion
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case EventMesh:
			fmt.Fprintf(&buf, "  [%d] mesh[%d] %v\n", event.Seq, event.Index, event.Shape)
		case EventArray:
			fmt.Fprintf(&buf, "  [%d] %s = %s %v\n", event.Seq, event.Name, event.Op, event.Shape)
		}
	}

	return buf.String()
}

// AssertionContext provides the built state assertions evaluate against.
type AssertionContext struct {
	Ctx          context.Context
	Store        *store.Store
	Grids        []*nd.Array[float64]
	Arrays       map[string]*nd.Array[int64]
	Fingerprints map[string]digest.Fingerprint
}

// EvaluateAssertions evaluates all assertions against the context.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for _, assertion := range assertions {
		if err := evaluateAssertion(assertion, result.Trace, actx); err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func evaluateAssertion(a Assertion, trace []TraceEvent, actx *AssertionContext) error {
	switch a.Type {
	case AssertMeshCount:
		return assertMeshCount(actx.Grids, a, trace)
	case AssertMeshShape:
		return assertMeshShape(actx.Grids, a, trace)
	case AssertMeshValues:
		return assertMeshValues(actx.Grids, a, trace)
	case AssertFingerprintEqual:
		return assertFingerprints(actx.Fingerprints, a, trace, true)
	case AssertFingerprintDiffers:
		return assertFingerprints(actx.Fingerprints, a, trace, false)
	case AssertSharesMemory:
		x, y := actx.Arrays[a.Arrays[0]], actx.Arrays[a.Arrays[1]]
		return assertPair(a, trace, nd.SharesMemory(x, y), "share memory")
	case AssertValuesEqual:
		x, y := actx.Arrays[a.Arrays[0]], actx.Arrays[a.Arrays[1]]
		return assertPair(a, trace, nd.Equal(x, y), "be equal")
	case AssertStoreCount:
		if actx.Store == nil {
			return fmt.Errorf("%s requires a store", a.Type)
		}
		return assertStoreCount(actx.Ctx, actx.Store, a, trace)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertMeshCount(grids []*nd.Array[float64], a Assertion, trace []TraceEvent) error {
	if len(grids) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d outputs", a.Count),
			Actual:   fmt.Sprintf("%d outputs", len(grids)),
			Trace:    trace,
		}
	}
	return nil
}

// assertMeshShape checks output Index, or every output when Index is nil.
func assertMeshShape(grids []*nd.Array[float64], a Assertion, trace []TraceEvent) error {
	targets, err := selectOutputs(grids, a, trace)
	if err != nil {
		return err
	}
	for _, i := range targets {
		if !equalInts(grids[i].Shape(), a.Shape) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("output %d shape %v", i, a.Shape),
				Actual:   fmt.Sprintf("shape %v", grids[i].Shape()),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertMeshValues(grids []*nd.Array[float64], a Assertion, trace []TraceEvent) error {
	targets, err := selectOutputs(grids, a, trace)
	if err != nil {
		return err
	}
	tol := a.Tolerance
	if tol == 0 {
		tol = DefaultTolerance
	}

	got := grids[targets[0]].Values()
	if len(got) != len(a.Values) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("output %d with %d elements", targets[0], len(a.Values)),
			Actual:   fmt.Sprintf("%d elements", len(got)),
			Trace:    trace,
		}
	}
	for i := range got {
		if math.Abs(got[i]-a.Values[i]) > tol {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("output %d element %d = %g (±%g)", targets[0], i, a.Values[i], tol),
				Actual:   fmt.Sprintf("%g", got[i]),
				Trace:    trace,
			}
		}
	}
	return nil
}

func selectOutputs(grids []*nd.Array[float64], a Assertion, trace []TraceEvent) ([]int, error) {
	if a.Index == nil {
		all := make([]int, len(grids))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	if *a.Index < 0 || *a.Index >= len(grids) {
		return nil, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("output index %d", *a.Index),
			Actual:   fmt.Sprintf("%d outputs", len(grids)),
			Trace:    trace,
		}
	}
	return []int{*a.Index}, nil
}

// assertFingerprints checks that all named arrays fingerprint equal (same)
// or pairwise distinct (!same).
func assertFingerprints(fps map[string]digest.Fingerprint, a Assertion, trace []TraceEvent, same bool) error {
	for i := 0; i < len(a.Arrays); i++ {
		for j := i + 1; j < len(a.Arrays); j++ {
			x, y := a.Arrays[i], a.Arrays[j]
			if (fps[x] == fps[y]) == same {
				continue
			}
			want := "equal"
			if !same {
				want = "different"
			}
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s and %s have %s fingerprints", x, y, want),
				Actual:   fmt.Sprintf("%s=%s %s=%s", x, fps[x].Short(), y, fps[y].Short()),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertPair(a Assertion, trace []TraceEvent, got bool, verb string) error {
	if got == *a.Expect {
		return nil
	}
	not := ""
	if !*a.Expect {
		not = "not "
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s and %s %sto %s", a.Arrays[0], a.Arrays[1], not, verb),
		Actual:   fmt.Sprintf("%t", got),
		Trace:    trace,
	}
}

func assertStoreCount(ctx context.Context, st *store.Store, a Assertion, trace []TraceEvent) error {
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.Arrays != int64(a.Count) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d stored arrays", a.Count),
			Actual:   fmt.Sprintf("%d stored arrays", stats.Arrays),
			Trace:    trace,
		}
	}
	return nil
}

func equalInts(a, b []int) bool {
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
