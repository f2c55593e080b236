// Package mesh builds N-dimensional coordinate grids.
//
// ND(a, b, c) returns one array per input sequence, each shaped
// (len(a), len(b), len(c)). Output i varies only along axis i and repeats
// sequence i across every other axis ("ij" / matrix indexing). Outputs are
// always freshly allocated: changing an input after the call never changes
// a returned array.
//
// Grid adds xy (Cartesian) indexing and sparse outputs, and
// Linspace / ArangeStep generate evenly spaced axes.
package mesh
