package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
)

// Record is a stored array row.
type Record struct {
	Fingerprint digest.Fingerprint `json:"fingerprint"`
	DType       nd.DType           `json:"dtype"`
	Shape       []int              `json:"shape"`
	Data        []byte             `json:"-"`
	Size        int                `json:"size"`
	Seq         int64              `json:"seq"`
	SessionID   string             `json:"session_id"`
}

// Tensor decodes the record's data into an array of its dtype.
func (r Record) Tensor() (nd.Tensor, error) {
	return nd.Decode(r.DType, r.Data, r.Shape...)
}

// GetRecord returns the stored row for fp, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, fp digest.Fingerprint) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, dtype, shape, data, seq, session_id
		FROM arrays
		WHERE fingerprint = ?
	`, fp.String())

	rec, err := scanRecord(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// GetArray loads the array stored under fp as element type T.
// Returns ErrDTypeMismatch if it was stored with a different dtype.
func GetArray[T nd.Number](ctx context.Context, s *Store, fp digest.Fingerprint) (*nd.Array[T], error) {
	rec, err := s.GetRecord(ctx, fp)
	if err != nil {
		return nil, err
	}
	if want := nd.DTypeOf[T](); rec.DType != want {
		return nil, fmt.Errorf("%w: %s stored as %s, requested %s", ErrDTypeMismatch, fp.Short(), rec.DType, want)
	}
	return nd.DecodeLE[T](rec.Data, rec.Shape...)
}

// HasArray reports whether an array with fingerprint fp is stored.
func (s *Store) HasArray(ctx context.Context, fp digest.Fingerprint) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM arrays WHERE fingerprint = ?`, fp.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has array: %w", err)
	}
	return n > 0, nil
}

// ListArrays returns every stored array without its data, ordered by
// seq ASC, fingerprint COLLATE BINARY ASC. Returns an empty slice, not nil,
// for an empty store.
func (s *Store) ListArrays(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, dtype, shape, NULL, seq, session_id
		FROM arrays
		ORDER BY seq ASC, fingerprint COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list arrays: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, false)
		if err != nil {
			return nil, fmt.Errorf("list arrays: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list arrays: iterate: %w", err)
	}
	return records, nil
}

// LookupMemo returns the memoized output of fn for input, if any.
func (s *Store) LookupMemo(ctx context.Context, fn string, input digest.Fingerprint) (nd.Tensor, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.fingerprint, a.dtype, a.shape, a.data, a.seq, a.session_id
		FROM memo_entries m
		JOIN arrays a ON a.fingerprint = m.output_fp
		WHERE m.func_name = ? AND m.input_fp = ?
	`, fn, input.String())

	rec, err := scanRecord(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup memo: %w", err)
	}

	out, err := rec.Tensor()
	if err != nil {
		return nil, false, fmt.Errorf("lookup memo: %w", err)
	}
	return out, true, nil
}

// Verify re-hashes the record stored under fp and returns ErrCorrupt if
// it no longer matches.
func (s *Store) Verify(ctx context.Context, fp digest.Fingerprint) error {
	rec, err := s.GetRecord(ctx, fp)
	if err != nil {
		return err
	}
	t, err := rec.Tensor()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, fp.Short(), err)
	}
	got, err := digest.Of(t)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if got != fp {
		return fmt.Errorf("%w: %s rehashes to %s", ErrCorrupt, fp.Short(), got.Short())
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, withData bool) (Record, error) {
	var (
		rec       Record
		fpText    string
		dtype     string
		shapeJSON string
		data      []byte
	)
	if err := row.Scan(&fpText, &dtype, &shapeJSON, &data, &rec.Seq, &rec.SessionID); err != nil {
		return Record{}, err
	}

	fp, err := digest.Parse(fpText)
	if err != nil {
		return Record{}, err
	}
	shape, err := unmarshalShape(shapeJSON)
	if err != nil {
		return Record{}, err
	}

	rec.Fingerprint = fp
	rec.DType = nd.DType(dtype)
	rec.Shape = shape
	rec.Size = 1
	for _, d := range shape {
		rec.Size *= d
	}
	if withData {
		rec.Data = data
	}
	return rec, nil
}
