// Package nd provides a small strided N-dimensional array.
//
// Arrays carry a shape, per-axis strides (in elements) and an offset into
// shared backing storage. Views produced by Reshape, Reverse, Flip,
// Transpose and BroadcastTo share storage with their source; Copy always
// allocates. Logical element order is row-major ("C") regardless of the
// strides used to store an array.
//
// nd imports nothing internal. The mesh, digest and store packages build
// on it.
package nd
