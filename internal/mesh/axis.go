package mesh

import (
	"fmt"
	"math"
)

// Linspace returns num evenly spaced values from start to stop. When
// endpoint is false stop is excluded and the step is (stop-start)/num.
func Linspace(start, stop float64, num int, endpoint bool) ([]float64, error) {
	if num < 0 {
		return nil, fmt.Errorf("mesh: linspace num must be non-negative, got %d", num)
	}
	out := make([]float64, num)
	if num == 0 {
		return out, nil
	}
	if num == 1 {
		out[0] = start
		return out, nil
	}

	div := float64(num)
	if endpoint {
		div = float64(num - 1)
	}
	step := (stop - start) / div
	for i := range out {
		out[i] = start + float64(i)*step
	}
	if endpoint {
		out[num-1] = stop
	}
	return out, nil
}

// ArangeStep returns start, start+step, ... up to but excluding stop.
func ArangeStep(start, stop, step float64) ([]float64, error) {
	if step == 0 || math.IsNaN(step) {
		return nil, fmt.Errorf("mesh: arange step must be non-zero")
	}
	n := int(math.Ceil((stop - start) / step))
	if n < 0 {
		n = 0
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out, nil
}
