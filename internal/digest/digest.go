// Package digest computes content fingerprints of arrays.
//
// A fingerprint depends only on an array's dtype, shape and logical element
// sequence in row-major order. Strides, offsets and storage sharing never
// leak into it: an independent copy fingerprints identically, while a
// reversed view of the same storage fingerprints differently whenever its
// values differ.
//
// Fingerprints are stable across processes and machines. The hash (SHA-256),
// byte order (little-endian) and header layout are fixed and versioned by
// the domain string, so fingerprints may key persistent caches.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/ndmesh/internal/canon"
	"github.com/roach88/ndmesh/internal/nd"
)

// DomainArray separates array fingerprints from any other hash the module
// may compute over similar bytes. The version suffix allows migration.
const DomainArray = "ndmesh/array/v1"

// Size is the fingerprint width in bytes.
const Size = sha256.Size

// Fingerprint is a fixed-width content digest. It is comparable and can be
// used directly as a map key.
type Fingerprint [Size]byte

// Of fingerprints a.
//
// Format: SHA256(domain 0x00 header 0x00 body), where header is the
// canonical JSON {"dtype":…,"order":"C","shape":[…]} and body is
// a.CanonicalBytes(). Canonical JSON never contains a NUL byte, so the
// separators are unambiguous.
func Of(a nd.Tensor) (Fingerprint, error) {
	header, err := Header(a.DType(), a.Shape())
	if err != nil {
		return Fingerprint{}, err
	}
	return Sum(DomainArray, header, a.CanonicalBytes()), nil
}

// MustOf is like Of but panics on error.
// Use only in tests or when the array is known to be valid.
func MustOf(a nd.Tensor) Fingerprint {
	fp, err := Of(a)
	if err != nil {
		panic(err)
	}
	return fp
}

// Header returns the canonical metadata block hashed ahead of the body.
func Header(dtype nd.DType, shape []int) ([]byte, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("digest: %w: %q", nd.ErrDType, dtype)
	}
	if shape == nil {
		shape = []int{}
	}
	header, err := canon.Marshal(map[string]any{
		"dtype": string(dtype),
		"order": "C",
		"shape": shape,
	})
	if err != nil {
		return nil, fmt.Errorf("digest: header: %w", err)
	}
	return header, nil
}

// Sum hashes domain, header and body with NUL separators.
func Sum(domain string, header, body []byte) Fingerprint {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(header)
	h.Write([]byte{0x00})
	h.Write(body)

	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}

// String returns the lower-case hex encoding.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// Short returns the first 12 hex characters, for display.
func (fp Fingerprint) Short() string {
	return fp.String()[:12]
}

// IsZero reports whether fp is the zero value.
func (fp Fingerprint) IsZero() bool {
	return fp == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler.
func (fp Fingerprint) MarshalText() ([]byte, error) {
	return []byte(fp.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (fp *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*fp = parsed
	return nil
}

// Parse decodes a 64-character hex fingerprint.
func Parse(s string) (Fingerprint, error) {
	var fp Fingerprint
	if len(s) != 2*Size {
		return fp, fmt.Errorf("digest: fingerprint must be %d hex characters, got %d", 2*Size, len(s))
	}
	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return fp, fmt.Errorf("digest: invalid fingerprint %q: %w", s, err)
	}
	return fp, nil
}
