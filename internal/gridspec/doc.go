// Package gridspec loads declarative grid definitions from CUE or YAML
// files and turns them into meshgrids.
//
// A file defines one or more named grids under the top-level "grid" key:
//
//	grid: plane: {
//		indexing: "xy"
//		axes: [
//			{name: "x", linspace: {start: 0, stop: 1, num: 5}},
//			{name: "y", values: [10, 20]},
//		]
//	}
//
// Every axis takes its coordinates from exactly one of values, linspace or
// arange. CUE files are unified with an embedded schema before decoding;
// YAML files are decoded strictly and defaulted in Go.
package gridspec
