// Package harness runs declarative conformance scenarios against the mesh
// and fingerprint packages.
//
// # Scenario Format
//
// Scenarios are YAML files decoded strictly (unknown fields are errors):
//
//	name: worked_example
//	description: "Three sequences produce three (3,3,2) grids"
//	grid:
//	  axes:
//	    - values: [0, 0, 1]
//	    - values: [1, 2, 3]
//	    - values: [23, 42]
//	arrays:
//	  - name: a1
//	    arange: 1000
//	    shape: [500, 2]
//	  - name: a2
//	    copy_of: a1
//	  - name: a3
//	    reverse: a1
//	assertions:
//	  - type: mesh_count
//	    count: 3
//	  - type: fingerprint_equal
//	    arrays: [a1, a2]
//	  - type: shares_memory
//	    arrays: [a1, a3]
//	    expect: true
//
// The grid block uses the gridspec YAML form without a name. Arrays are
// int64 and are built in order, so later arrays may refer to earlier ones:
//
//   - arange: N elements 0..N-1
//   - values: explicit elements
//   - copy_of: an independent copy of another array
//   - view_of: a view of another array (shares memory)
//   - reverse: the flat elements of another array reversed, as a view
//
// Any of them may be followed by shape, which reshapes the result. For
// reverse the default shape is the source array's shape.
//
// # Assertion Types
//
//   - mesh_count: number of grid outputs
//   - mesh_shape: shape of output index, or of every output
//   - mesh_values: row-major elements of output index, within tolerance
//   - fingerprint_equal / fingerprint_differs: pairwise over arrays
//   - shares_memory: whether two arrays overlap in storage (expect)
//   - values_equal: element-wise equality including shape (expect)
//   - store_count: number of distinct arrays after storing all of them
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory store. Trace events carry
// seq values from a private logical clock, so traces are identical across
// runs and suitable for golden comparison.
package harness
