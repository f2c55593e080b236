package nd

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// storage is the backing memory shared between an array and its views.
type storage[T Number] struct {
	data []T
}

// Array is a strided view over shared storage.
//
// The zero value is not usable; construct arrays with FromSlice, Zeros,
// Full or Arange.
type Array[T Number] struct {
	buf     *storage[T]
	shape   []int
	strides []int
	offset  int
}

// FromSlice copies data into a new C-contiguous array with the given shape.
// With no shape the result is 1-D. The product of shape must equal len(data).
func FromSlice[T Number](data []T, shape ...int) (*Array[T], error) {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	size, err := shapeSize(shape)
	if err != nil {
		return nil, err
	}
	if size != len(data) {
		return nil, fmt.Errorf("%w: %d elements cannot fill shape %v", ErrShape, len(data), shape)
	}
	a := newContiguous[T](shape, size)
	copy(a.buf.data, data)
	return a, nil
}

// MustFromSlice is like FromSlice but panics on error.
// Use only in tests or when the shape is known to be valid.
func MustFromSlice[T Number](data []T, shape ...int) *Array[T] {
	a, err := FromSlice(data, shape...)
	if err != nil {
		panic(err)
	}
	return a
}

// Zeros returns a new zero-filled array.
func Zeros[T Number](shape ...int) (*Array[T], error) {
	size, err := shapeSize(shape)
	if err != nil {
		return nil, err
	}
	return newContiguous[T](shape, size), nil
}

// Full returns a new array with every element set to v.
func Full[T Number](v T, shape ...int) (*Array[T], error) {
	a, err := Zeros[T](shape...)
	if err != nil {
		return nil, err
	}
	for i := range a.buf.data {
		a.buf.data[i] = v
	}
	return a, nil
}

// Arange returns the 1-D array [0, 1, ..., n-1].
func Arange[T Number](n int) *Array[T] {
	if n < 0 {
		n = 0
	}
	a := newContiguous[T]([]int{n}, n)
	for i := range a.buf.data {
		a.buf.data[i] = T(i)
	}
	return a
}

// newContiguous allocates storage for size elements. size must come from
// shapeSize(shape).
func newContiguous[T Number](shape []int, size int) *Array[T] {
	return &Array[T]{
		buf:     &storage[T]{data: make([]T, size)},
		shape:   slices.Clone(shape),
		strides: cStrides(shape),
	}
}

// cStrides returns row-major strides for shape.
func cStrides(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= shape[i]
	}
	return strides
}

// shapeSize returns the element count of shape. Negative dimensions and
// products that overflow int are rejected.
func shapeSize(shape []int) (int, error) {
	empty := false
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		empty = empty || d == 0
	}
	if empty {
		return 0, nil
	}
	size := 1
	for _, d := range shape {
		if size > math.MaxInt/d {
			return 0, fmt.Errorf("%w: %v has too many elements", ErrShape, shape)
		}
		size *= d
	}
	return size, nil
}

// DType returns the element dtype.
func (a *Array[T]) DType() DType { return DTypeOf[T]() }

// Shape returns a copy of the array's shape.
func (a *Array[T]) Shape() []int { return slices.Clone(a.shape) }

// Strides returns a copy of the per-axis strides, in elements.
func (a *Array[T]) Strides() []int { return slices.Clone(a.strides) }

// NDim returns the number of axes.
func (a *Array[T]) NDim() int { return len(a.shape) }

// Size returns the number of logical elements. Every constructor checks
// its shape with shapeSize, so the product cannot overflow here.
func (a *Array[T]) Size() int {
	size, _ := shapeSize(a.shape)
	return size
}

func (a *Array[T]) position(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Errorf("%w: got %d indices for %d axes", ErrIndex, len(idx), len(a.shape)))
	}
	pos := a.offset
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			panic(fmt.Errorf("%w: index %d on axis %d with size %d", ErrIndex, v, i, a.shape[i]))
		}
		pos += v * a.strides[i]
	}
	return pos
}

// At returns the element at idx. It panics if idx is out of range,
// like indexing a slice.
func (a *Array[T]) At(idx ...int) T {
	return a.buf.data[a.position(idx)]
}

// Set stores v at idx. Writes through views are visible in every array
// sharing the same storage. It panics if idx is out of range.
func (a *Array[T]) Set(v T, idx ...int) {
	a.buf.data[a.position(idx)] = v
}

// Each calls fn for every element in row-major order.
func (a *Array[T]) Each(fn func(v T)) {
	a.eachPosition(func(pos int) { fn(a.buf.data[pos]) })
}

// Values returns the elements in row-major order as a new slice.
func (a *Array[T]) Values() []T {
	out := make([]T, 0, a.Size())
	a.Each(func(v T) { out = append(out, v) })
	return out
}

// Copy returns a C-contiguous array with its own storage.
func (a *Array[T]) Copy() *Array[T] {
	out := newContiguous[T](a.shape, a.Size())
	i := 0
	a.Each(func(v T) {
		out.buf.data[i] = v
		i++
	})
	return out
}

// linearStep reports whether the k-th logical element lives at
// offset + k*step for a single step, and returns that step.
// Contiguous arrays have step 1 and fully reversed ones step -1.
func (a *Array[T]) linearStep() (int, bool) {
	step, found, span := 1, false, 1
	for i := len(a.shape) - 1; i >= 0; i-- {
		if a.shape[i] == 1 {
			continue
		}
		if a.shape[i] == 0 {
			return 1, true
		}
		if !found {
			step, found = a.strides[i], true
		}
		if a.strides[i] != step*span {
			return 0, false
		}
		span *= a.shape[i]
	}
	return step, true
}

// IsContiguous reports whether the logical elements occupy consecutive
// storage in row-major order.
func (a *Array[T]) IsContiguous() bool {
	step, ok := a.linearStep()
	return ok && step == 1
}

// Reshape returns an array with the same elements in row-major order and a
// new shape. One dimension may be -1 and is inferred. The result is a view
// when the elements are evenly spaced in storage (contiguous or reversed
// arrays), otherwise a reshaped copy.
func (a *Array[T]) Reshape(shape ...int) (*Array[T], error) {
	shape, err := a.resolveShape(shape)
	if err != nil {
		return nil, err
	}
	step, ok := a.linearStep()
	if !ok {
		return a.Copy().Reshape(shape...)
	}
	strides := cStrides(shape)
	for i := range strides {
		strides[i] *= step
	}
	return &Array[T]{buf: a.buf, shape: shape, strides: strides, offset: a.offset}, nil
}

func (a *Array[T]) resolveShape(shape []int) ([]int, error) {
	shape = slices.Clone(shape)
	infer := -1
	var knownDims []int
	for i, d := range shape {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("%w: more than one inferred dimension in %v", ErrShape, shape)
			}
			infer = i
		default:
			knownDims = append(knownDims, d)
		}
	}
	known, err := shapeSize(knownDims)
	if err != nil {
		return nil, err
	}
	size := a.Size()
	if infer >= 0 {
		if known == 0 || size%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %d elements into %v", ErrShape, size, shape)
		}
		shape[infer] = size / known
		known = size
	}
	if known != size {
		return nil, fmt.Errorf("%w: cannot reshape %d elements into %v", ErrShape, size, shape)
	}
	return shape, nil
}

// Flip returns a view with the order of elements along axis reversed.
func (a *Array[T]) Flip(axis int) (*Array[T], error) {
	if axis < 0 || axis >= len(a.shape) {
		return nil, fmt.Errorf("%w: axis %d for %d-d array", ErrAxis, axis, len(a.shape))
	}
	out := a.view()
	if a.shape[axis] > 0 {
		out.offset += (a.shape[axis] - 1) * a.strides[axis]
	}
	out.strides[axis] = -a.strides[axis]
	return out, nil
}

// Reverse returns a view with every axis reversed. On a 1-D array this is
// the element-reversed view a[::-1].
func (a *Array[T]) Reverse() *Array[T] {
	out := a
	for axis := range a.shape {
		out, _ = out.Flip(axis)
	}
	if out == a {
		return a.view()
	}
	return out
}

// Transpose returns a view with axes permuted. With no arguments the axis
// order is reversed.
func (a *Array[T]) Transpose(perm ...int) (*Array[T], error) {
	n := len(a.shape)
	if len(perm) == 0 {
		perm = make([]int, n)
		for i := range perm {
			perm[i] = n - 1 - i
		}
	}
	if len(perm) != n {
		return nil, fmt.Errorf("%w: permutation %v for %d-d array", ErrAxis, perm, n)
	}
	seen := make([]bool, n)
	out := &Array[T]{buf: a.buf, shape: make([]int, n), strides: make([]int, n), offset: a.offset}
	for i, p := range perm {
		if p < 0 || p >= n || seen[p] {
			return nil, fmt.Errorf("%w: permutation %v", ErrAxis, perm)
		}
		seen[p] = true
		out.shape[i] = a.shape[p]
		out.strides[i] = a.strides[p]
	}
	return out, nil
}

// BroadcastTo returns a read-mostly view of a with the target shape,
// using the usual broadcasting rules: axes are aligned from the right and size-1
// axes are repeated with stride 0. Writing through the view writes the
// shared source element.
func (a *Array[T]) BroadcastTo(shape ...int) (*Array[T], error) {
	if _, err := shapeSize(shape); err != nil {
		return nil, err
	}
	n, m := len(shape), len(a.shape)
	if n < m {
		return nil, fmt.Errorf("%w: %v to %v", ErrBroadcast, a.shape, shape)
	}
	out := &Array[T]{buf: a.buf, shape: slices.Clone(shape), strides: make([]int, n), offset: a.offset}
	for j := range shape {
		i := j - (n - m)
		if i < 0 {
			continue
		}
		switch {
		case a.shape[i] == shape[j]:
			out.strides[j] = a.strides[i]
		case a.shape[i] == 1:
			out.strides[j] = 0
		default:
			return nil, fmt.Errorf("%w: %v to %v", ErrBroadcast, a.shape, shape)
		}
	}
	return out, nil
}

func (a *Array[T]) view() *Array[T] {
	return &Array[T]{buf: a.buf, shape: slices.Clone(a.shape), strides: slices.Clone(a.strides), offset: a.offset}
}

// Equal reports whether a and b have the same shape and element-wise equal
// values. Floating-point comparison uses ==, so NaN never equals NaN.
func Equal[T Number](a, b *Array[T]) bool {
	if !slices.Equal(a.shape, b.shape) {
		return false
	}
	return slices.Equal(a.Values(), b.Values())
}

// SharesMemory reports whether a and b reach at least one common storage
// element. Unlike a bounds check this is exact: interleaved views of the
// same storage that never touch the same element do not share memory.
func SharesMemory[T Number](a, b *Array[T]) bool {
	if a.buf != b.buf || a.Size() == 0 || b.Size() == 0 {
		return false
	}
	touched := make([]bool, len(a.buf.data))
	a.eachPosition(func(pos int) { touched[pos] = true })
	shared := false
	b.eachPosition(func(pos int) {
		if touched[pos] {
			shared = true
		}
	})
	return shared
}

// eachPosition visits the storage position of every element in row-major
// order using an odometer over the axes.
func (a *Array[T]) eachPosition(fn func(pos int)) {
	n := len(a.shape)
	if a.Size() == 0 {
		return
	}
	idx := make([]int, n)
	pos := a.offset
	for {
		fn(pos)
		k := n - 1
		for ; k >= 0; k-- {
			idx[k]++
			pos += a.strides[k]
			if idx[k] < a.shape[k] {
				break
			}
			pos -= a.strides[k] * a.shape[k]
			idx[k] = 0
		}
		if k < 0 {
			return
		}
	}
}

// String formats the array with nested brackets, e.g. [[1 2] [3 4]].
func (a *Array[T]) String() string {
	var sb strings.Builder
	vals := a.Values()
	var write func(axis, start int) int
	write = func(axis, start int) int {
		if axis == len(a.shape) {
			fmt.Fprint(&sb, vals[start])
			return start + 1
		}
		sb.WriteByte('[')
		for i := 0; i < a.shape[axis]; i++ {
			if i > 0 {
				sb.WriteByte(' ')
			}
			start = write(axis+1, start)
		}
		sb.WriteByte(']')
		return start
	}
	write(0, 0)
	return sb.String()
}
