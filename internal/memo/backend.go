package memo

import (
	"context"
	"sync"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
	"github.com/roach88/ndmesh/internal/store"
)

// Backend stores memoized outputs keyed by (function name, input fingerprint).
type Backend interface {
	Lookup(ctx context.Context, fn string, in digest.Fingerprint) (nd.Tensor, bool, error)
	Save(ctx context.Context, fn string, in digest.Fingerprint, out nd.Tensor) error
}

type memoKey struct {
	fn string
	in digest.Fingerprint
}

type memoEntry struct {
	dtype nd.DType
	shape []int
	data  []byte
}

// MemoryBackend is an in-process Backend.
//
// Entries hold encoded bytes, so neither the saved array nor a looked-up
// result aliases the cache.
//
// Thread-safety: safe for concurrent use.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[memoKey]memoEntry
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[memoKey]memoEntry)}
}

// Lookup implements Backend.
func (m *MemoryBackend) Lookup(_ context.Context, fn string, in digest.Fingerprint) (nd.Tensor, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[memoKey{fn, in}]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	out, err := nd.Decode(e.dtype, e.data, e.shape...)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Save implements Backend. The first saved output for a key is kept.
func (m *MemoryBackend) Save(_ context.Context, fn string, in digest.Fingerprint, out nd.Tensor) error {
	key := memoKey{fn, in}
	entry := memoEntry{
		dtype: out.DType(),
		shape: append([]int(nil), out.Shape()...),
		data:  out.Bytes(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists {
		m.entries[key] = entry
	}
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StoreBackend persists entries in a SQLite store.
type StoreBackend struct {
	Store *store.Store
}

// Lookup implements Backend.
func (b StoreBackend) Lookup(ctx context.Context, fn string, in digest.Fingerprint) (nd.Tensor, bool, error) {
	return b.Store.LookupMemo(ctx, fn, in)
}

// Save implements Backend.
func (b StoreBackend) Save(ctx context.Context, fn string, in digest.Fingerprint, out nd.Tensor) error {
	return b.Store.SaveMemo(ctx, fn, in, out)
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = StoreBackend{}
)
