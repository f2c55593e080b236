package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades the schema to version. Versions are applied in order,
// each in its own transaction, and recorded in PRAGMA user_version.
type migration struct {
	version int
	stmts   string
}

var migrations = []migration{
	{version: 1, stmts: schemaSQL}, // arrays and memo_entries
}

// connParams are go-sqlite3 DSN options applied to every connection.
const connParams = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"

var (
	// ErrNotFound is returned when no array exists for a fingerprint.
	ErrNotFound = errors.New("store: array not found")

	// ErrDTypeMismatch is returned when a stored array is read as a
	// different element type.
	ErrDTypeMismatch = errors.New("store: dtype mismatch")

	// ErrCorrupt is returned by Verify when a record no longer hashes to
	// its fingerprint.
	ErrCorrupt = errors.New("store: record does not match fingerprint")
)

// Store provides durable content-addressed storage for arrays.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db        *sql.DB
	sessionID string
}

// Open creates or opens the database at path and migrates it to the
// current schema. ":memory:" opens a private in-memory database.
// Opening the same path repeatedly is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer, and a private ":memory:" database exists
	// only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	session, err := uuid.NewV7()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session id: %w", err)
	}
	return &Store{db: db, sessionID: session.String()}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SessionID returns the UUIDv7 recorded on rows written by this Store.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Stats summarizes store contents.
type Stats struct {
	Arrays      int64 `json:"arrays"`
	MemoEntries int64 `json:"memo_entries"`
	DataBytes   int64 `json:"data_bytes"`
}

// Stats returns row counts and the total size of stored array data.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM arrays
	`).Scan(&st.Arrays, &st.DataBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memo_entries`).Scan(&st.MemoEntries); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// migrate applies every migration newer than the database's user_version.
// A database written by a newer schema is refused rather than downgraded.
func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	latest := migrations[len(migrations)-1].version
	if current > latest {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, latest)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmts); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: record version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	return nil
}
