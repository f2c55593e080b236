package nd

import "errors"

var (
	// ErrShape is returned when a shape does not match the data it describes.
	ErrShape = errors.New("nd: shape mismatch")

	// ErrIndex is the panic value (wrapped) for out-of-range element access.
	ErrIndex = errors.New("nd: index out of range")

	// ErrBroadcast is returned when shapes cannot be broadcast together.
	ErrBroadcast = errors.New("nd: shapes are not broadcastable")

	// ErrAxis is returned for invalid axis numbers or permutations.
	ErrAxis = errors.New("nd: invalid axis")

	// ErrDType is returned for unknown dtype names.
	ErrDType = errors.New("nd: unsupported dtype")
)
