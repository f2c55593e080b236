package harness

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndmesh/internal/gridspec"
)

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func TestRun_AllScenariosPass(t *testing.T) {
	scenarios, err := LoadDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_TraceSeqIsMonotonic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "copy_and_reverse.yaml"))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	for i, event := range result.Trace {
		assert.Equal(t, int64(i+1), event.Seq)
	}
}

func TestRun_CopyIsDeduplicatedInStore(t *testing.T) {
	s := &Scenario{
		Name:        "dedup",
		Description: "copy stores nothing new",
		Arrays: []ArraySpec{
			{Name: "a", Arange: intPtr(4)},
			{Name: "b", CopyOf: "a"},
		},
		Assertions: []Assertion{{Type: AssertStoreCount, Count: 1}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 3)
	assert.True(t, *result.Trace[0].Stored)
	assert.False(t, *result.Trace[1].Stored)
}

func TestRun_FailingAssertionsReported(t *testing.T) {
	s := &Scenario{
		Name:        "failing",
		Description: "every assertion is wrong",
		Grid: &gridspec.Spec{
			Name:     "failing",
			Indexing: "ij",
			Axes:     []gridspec.Axis{{Values: []float64{1, 2}}},
		},
		Arrays: []ArraySpec{
			{Name: "a", Arange: intPtr(3)},
			{Name: "b", CopyOf: "a"},
		},
		Assertions: []Assertion{
			{Type: AssertMeshCount, Count: 2},
			{Type: AssertMeshShape, Shape: []int{3}},
			{Type: AssertMeshValues, Index: intPtr(0), Values: []float64{1, 3}},
			{Type: AssertFingerprintDiffers, Arrays: []string{"a", "b"}},
			{Type: AssertSharesMemory, Arrays: []string{"a", "b"}, Expect: boolPtr(true)},
			{Type: AssertValuesEqual, Arrays: []string{"a", "b"}, Expect: boolPtr(false)},
			{Type: AssertStoreCount, Count: 2},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 7)

	for _, event := range result.Trace {
		if event.Type == EventAssertion {
			assert.False(t, *event.Pass, event.Name)
		}
	}
	assert.Contains(t, result.Errors[0], "Assertion failed: mesh_count")
	assert.Contains(t, result.Errors[0], "Expected: 2 outputs")
	assert.Contains(t, result.Errors[0], "Actual: 1 outputs")
}

func TestRun_MeshValuesTolerance(t *testing.T) {
	s := &Scenario{
		Name:        "tolerance",
		Description: "approximate values",
		Grid: &gridspec.Spec{
			Name:     "tolerance",
			Indexing: "ij",
			Axes:     []gridspec.Axis{{Values: []float64{0.1, 0.2}}},
		},
		Assertions: []Assertion{
			{Type: AssertMeshValues, Index: intPtr(0), Values: []float64{0.1001, 0.2}, Tolerance: 1e-3},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_OutOfRangeIndex(t *testing.T) {
	s := &Scenario{
		Name:        "index",
		Description: "index past the outputs",
		Grid: &gridspec.Spec{
			Name:     "index",
			Indexing: "ij",
			Axes:     []gridspec.Axis{{Values: []float64{1}}},
		},
		Assertions: []Assertion{
			{Type: AssertMeshValues, Index: intPtr(3), Values: []float64{1}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	require.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "output index 3")
}

func TestRun_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "layout_blind.yaml"))
	require.NoError(t, err)

	_, err = Run(s, WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "array built")
	assert.Contains(t, buf.String(), "scenario finished")
}

func TestEvaluateAssertions(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "worked_example.yaml"))
	require.NoError(t, err)
	grids, err := s.Grid.Build()
	require.NoError(t, err)

	actx := &AssertionContext{Grids: grids}
	errs := EvaluateAssertions(NewResult(), s.Assertions, actx)
	assert.Empty(t, errs)

	errs = EvaluateAssertions(NewResult(), []Assertion{{Type: AssertMeshCount, Count: 1}}, actx)
	assert.Len(t, errs, 1)

	errs = EvaluateAssertions(NewResult(), []Assertion{{Type: AssertStoreCount}}, actx)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires a store")
}

func TestLogicalClock(t *testing.T) {
	var c logicalClock
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
	c.Reset()
	assert.Equal(t, int64(1), c.Next())
}
