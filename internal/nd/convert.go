package nd

import (
	"fmt"
	"math"
)

// FromAny builds an array of the given dtype from loosely typed values, as
// produced by YAML or JSON decoding (int, int64, uint64, float64).
// Integer dtypes reject fractional and out-of-range values.
func FromAny(dtype DType, values []any, shape ...int) (Tensor, error) {
	switch dtype {
	case Int8:
		return fromAny[int8](values, shape, math.MinInt8, math.MaxInt8)
	case Int16:
		return fromAny[int16](values, shape, math.MinInt16, math.MaxInt16)
	case Int32:
		return fromAny[int32](values, shape, math.MinInt32, math.MaxInt32)
	case Int64:
		return fromAny[int64](values, shape, math.MinInt64, math.MaxInt64)
	case Uint8:
		return fromAny[uint8](values, shape, 0, math.MaxUint8)
	case Uint16:
		return fromAny[uint16](values, shape, 0, math.MaxUint16)
	case Uint32:
		return fromAny[uint32](values, shape, 0, math.MaxUint32)
	case Uint64:
		return fromAny[uint64](values, shape, 0, math.MaxUint64)
	case Float32:
		return fromAny[float32](values, shape, 0, 0)
	case Float64:
		return fromAny[float64](values, shape, 0, 0)
	default:
		return nil, fmt.Errorf("%w: %q", ErrDType, dtype)
	}
}

// fromAny converts values to T. For integer types [lo, hi] is the
// representable range; float types ignore it.
func fromAny[T Number](values []any, shape []int, lo int64, hi uint64) (Tensor, error) {
	isFloat := DTypeOf[T]().IsFloat()
	// hi+1 is a power of two, so it is exact as a float64 even for 2^63 and 2^64.
	limit := float64(hi/2+1) * 2
	data := make([]T, len(values))
	for i, raw := range values {
		ok := true
		switch v := raw.(type) {
		case int:
			ok = isFloat || intInRange(int64(v), lo, hi)
			data[i] = T(v)
		case int64:
			ok = isFloat || intInRange(v, lo, hi)
			data[i] = T(v)
		case uint64:
			ok = isFloat || v <= hi
			data[i] = T(v)
		case float64:
			if !isFloat && v != math.Trunc(v) {
				return nil, fmt.Errorf("value %v at %d is not a valid %s", v, i, DTypeOf[T]())
			}
			ok = isFloat || (v >= float64(lo) && v < limit)
			if ok {
				data[i] = T(v)
			}
		default:
			return nil, fmt.Errorf("value %v at %d: unsupported type %T", raw, i, raw)
		}
		if !ok {
			return nil, fmt.Errorf("value %v at %d overflows %s", raw, i, DTypeOf[T]())
		}
	}
	a, err := FromSlice(data, shape...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func intInRange(v, lo int64, hi uint64) bool {
	return v >= lo && (v < 0 || uint64(v) <= hi)
}
