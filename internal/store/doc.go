// Package store provides SQLite-backed content-addressed storage for arrays.
//
// Arrays are keyed by their digest fingerprint, so writing the same logical
// array twice is a no-op regardless of how either copy was laid out in
// memory. On top of the array table the store keeps memoization entries
// mapping (function name, input fingerprint) to an output array.
//
// # Invariants
//
// Content addressing
//   - arrays.fingerprint is the primary key; inserts use ON CONFLICT DO NOTHING
//   - data holds nd.Tensor.Bytes() (raw little-endian, row-major), so values
//     round-trip bit-exactly; Verify re-hashes a record against its key
//
// Logical ordering
//   - every row carries seq, a per-table logical clock (MAX(seq)+1 in the
//     write transaction), never a wall-clock timestamp
//   - listings use ORDER BY seq ASC, fingerprint COLLATE BINARY ASC
//
// Provenance
//   - each Store instance has a UUIDv7 session ID recorded on rows it writes
//
// # Database Configuration
//
// Set through go-sqlite3 DSN parameters so every pooled connection gets them:
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON: memo entries cascade when their output array is deleted
package store
