package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinspace(t *testing.T) {
	tests := []struct {
		name     string
		start    float64
		stop     float64
		num      int
		endpoint bool
		expected []float64
	}{
		{"with endpoint", 0, 1, 5, true, []float64{0, 0.25, 0.5, 0.75, 1}},
		{"without endpoint", 0, 1, 4, false, []float64{0, 0.25, 0.5, 0.75}},
		{"single", 3, 9, 1, true, []float64{3}},
		{"empty", 3, 9, 0, true, []float64{}},
		{"descending", 2, -2, 3, true, []float64{2, 0, -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Linspace(tt.start, tt.stop, tt.num, tt.endpoint)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.expected, got, 1e-12)
			assert.Len(t, got, tt.num)
		})
	}

	_, err := Linspace(0, 1, -1, true)
	require.Error(t, err)
}

func TestArangeStep(t *testing.T) {
	got, err := ArangeStep(0, 1, 0.25)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.5, 0.75}, got, 1e-12)

	got, err = ArangeStep(5, 0, -2)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 3, 1}, got)

	got, err = ArangeStep(5, 0, 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ArangeStep(0, 1, 0)
	require.Error(t, err)
}
