// Package config loads ndmesh settings from a TOML file.
//
// Precedence is command-line flags, then the config file, then built-in
// defaults. The NDMESH_STORE environment variable overrides store.path when
// the file leaves it unset.
package config
