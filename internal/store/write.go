package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
)

// PutArray stores a under its fingerprint and returns the fingerprint and
// whether a new row was inserted. Storing an array whose content is already
// present is a no-op (inserted=false), whatever its memory layout.
func (s *Store) PutArray(ctx context.Context, a nd.Tensor) (fp digest.Fingerprint, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fp, false, fmt.Errorf("put array: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	fp, inserted, err = s.putArrayTx(ctx, tx, a)
	if err != nil {
		return fp, false, fmt.Errorf("put array: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fp, false, fmt.Errorf("put array: commit: %w", err)
	}
	return fp, inserted, nil
}

func (s *Store) putArrayTx(ctx context.Context, tx *sql.Tx, a nd.Tensor) (digest.Fingerprint, bool, error) {
	fp, err := digest.Of(a)
	if err != nil {
		return fp, false, err
	}

	shapeJSON, err := marshalShape(a.Shape())
	if err != nil {
		return fp, false, err
	}

	seq, err := nextSeq(ctx, tx, "arrays")
	if err != nil {
		return fp, false, err
	}

	// A nil slice binds as NULL; empty arrays store a zero-length blob.
	data := a.Bytes()
	if data == nil {
		data = []byte{}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO arrays (fingerprint, dtype, shape, data, seq, session_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`,
		fp.String(),
		string(a.DType()),
		shapeJSON,
		data,
		seq,
		s.sessionID,
	)
	if err != nil {
		return fp, false, fmt.Errorf("insert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fp, false, fmt.Errorf("rows affected: %w", err)
	}
	return fp, rows > 0, nil
}

// SaveMemo records that function fn maps the input fingerprint to out.
// The output array is stored alongside. An existing entry for
// (fn, input) is left unchanged: memoized functions are assumed pure.
func (s *Store) SaveMemo(ctx context.Context, fn string, input digest.Fingerprint, out nd.Tensor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save memo: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	outFP, _, err := s.putArrayTx(ctx, tx, out)
	if err != nil {
		return fmt.Errorf("save memo: %w", err)
	}

	seq, err := nextSeq(ctx, tx, "memo_entries")
	if err != nil {
		return fmt.Errorf("save memo: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memo_entries (func_name, input_fp, output_fp, seq, session_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(func_name, input_fp) DO NOTHING
	`, fn, input.String(), outFP.String(), seq, s.sessionID)
	if err != nil {
		return fmt.Errorf("save memo: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save memo: commit: %w", err)
	}
	return nil
}

// DeleteArray removes an array and any memo entries producing it.
// Returns false if no array had that fingerprint.
func (s *Store) DeleteArray(ctx context.Context, fp digest.Fingerprint) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM arrays WHERE fingerprint = ?`, fp.String())
	if err != nil {
		return false, fmt.Errorf("delete array: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete array: rows affected: %w", err)
	}
	return rows > 0, nil
}

// nextSeq returns the next logical clock value for table.
// table is always a package constant, never caller input.
func nextSeq(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var seq int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) + 1 FROM %s", table)
	if err := tx.QueryRowContext(ctx, query).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq for %s: %w", table, err)
	}
	return seq, nil
}
