package nd

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tensor is the dtype-erased view of an Array used by code that handles
// arrays of any element type (fingerprinting, persistence, CLI output).
type Tensor interface {
	DType() DType
	Shape() []int
	Size() int
	// Bytes returns the logical elements in row-major order as
	// little-endian fixed-width values.
	Bytes() []byte
	// CanonicalBytes is Bytes with floats canonicalized so that values
	// comparing equal encode identically: -0 encodes as +0 and every NaN
	// encodes as the same quiet NaN.
	CanonicalBytes() []byte
}

var _ Tensor = (*Array[float64])(nil)

const (
	canonicalNaN64 = 0x7ff8000000000000
	canonicalNaN32 = 0x7fc00000
)

// Bytes implements Tensor.
func (a *Array[T]) Bytes() []byte {
	return a.encode(false)
}

// CanonicalBytes implements Tensor.
func (a *Array[T]) CanonicalBytes() []byte {
	return a.encode(true)
}

func (a *Array[T]) encode(canonical bool) []byte {
	out := make([]byte, 0, a.Size()*DTypeOf[T]().ItemSize())
	a.Each(func(v T) {
		out = appendLE(out, v, canonical)
	})
	return out
}

func appendLE[T Number](b []byte, v T, canonical bool) []byte {
	le := binary.LittleEndian
	switch x := any(v).(type) {
	case int8:
		return append(b, byte(x))
	case uint8:
		return append(b, x)
	case int16:
		return le.AppendUint16(b, uint16(x))
	case uint16:
		return le.AppendUint16(b, x)
	case int32:
		return le.AppendUint32(b, uint32(x))
	case uint32:
		return le.AppendUint32(b, x)
	case int64:
		return le.AppendUint64(b, uint64(x))
	case uint64:
		return le.AppendUint64(b, x)
	case float32:
		bits := math.Float32bits(x)
		if canonical {
			switch {
			case math.IsNaN(float64(x)):
				bits = canonicalNaN32
			case x == 0:
				bits = 0
			}
		}
		return le.AppendUint32(b, bits)
	case float64:
		bits := math.Float64bits(x)
		if canonical {
			switch {
			case math.IsNaN(x):
				bits = canonicalNaN64
			case x == 0:
				bits = 0
			}
		}
		return le.AppendUint64(b, bits)
	}
	panic(fmt.Sprintf("nd: unreachable element type %T", v))
}

// DecodeLE builds a new C-contiguous array from little-endian bytes
// produced by Bytes.
func DecodeLE[T Number](data []byte, shape ...int) (*Array[T], error) {
	size, err := shapeSize(shape)
	if err != nil {
		return nil, err
	}
	width := DTypeOf[T]().ItemSize()
	if size > math.MaxInt/width || len(data) != size*width {
		return nil, fmt.Errorf("%w: %d bytes for %d %s elements", ErrShape, len(data), size, DTypeOf[T]())
	}
	a := newContiguous[T](shape, size)
	le := binary.LittleEndian
	for i := range a.buf.data {
		chunk := data[i*width : (i+1)*width]
		var v any
		switch DTypeOf[T]() {
		case Int8:
			v = int8(chunk[0])
		case Uint8:
			v = chunk[0]
		case Int16:
			v = int16(le.Uint16(chunk))
		case Uint16:
			v = le.Uint16(chunk)
		case Int32:
			v = int32(le.Uint32(chunk))
		case Uint32:
			v = le.Uint32(chunk)
		case Int64:
			v = int64(le.Uint64(chunk))
		case Uint64:
			v = le.Uint64(chunk)
		case Float32:
			v = math.Float32frombits(le.Uint32(chunk))
		case Float64:
			v = math.Float64frombits(le.Uint64(chunk))
		}
		a.buf.data[i] = v.(T)
	}
	return a, nil
}

// Decode is DecodeLE for a dtype known only at runtime.
func Decode(dtype DType, data []byte, shape ...int) (Tensor, error) {
	switch dtype {
	case Int8:
		return decodeAs[int8](data, shape)
	case Int16:
		return decodeAs[int16](data, shape)
	case Int32:
		return decodeAs[int32](data, shape)
	case Int64:
		return decodeAs[int64](data, shape)
	case Uint8:
		return decodeAs[uint8](data, shape)
	case Uint16:
		return decodeAs[uint16](data, shape)
	case Uint32:
		return decodeAs[uint32](data, shape)
	case Uint64:
		return decodeAs[uint64](data, shape)
	case Float32:
		return decodeAs[float32](data, shape)
	case Float64:
		return decodeAs[float64](data, shape)
	default:
		return nil, fmt.Errorf("%w: %q", ErrDType, dtype)
	}
}

func decodeAs[T Number](data []byte, shape []int) (Tensor, error) {
	a, err := DecodeLE[T](data, shape...)
	if err != nil {
		return nil, err
	}
	return a, nil
}
