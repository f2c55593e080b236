package memo

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/ndmesh/internal/nd"
	"github.com/roach88/ndmesh/internal/store"
)

// double returns 2*a and counts its invocations.
func double(calls *int) func(*nd.Array[int64]) (*nd.Array[int64], error) {
	return func(a *nd.Array[int64]) (*nd.Array[int64], error) {
		*calls++
		vals := a.Values()
		for i := range vals {
			vals[i] *= 2
		}
		return nd.FromSlice(vals, a.Shape()...)
	}
}

func TestCall_HitOnEqualValue(t *testing.T) {
	calls := 0
	f := Wrap("double", double(&calls), NewMemoryBackend())
	ctx := context.Background()

	a := nd.MustFromSlice([]int64{1, 2, 3, 4}, 2, 2)
	out1, err := f.Call(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 6, 8}, out1.Values())

	out2, err := f.Call(ctx, a.Copy())
	require.NoError(t, err)
	assert.True(t, nd.Equal(out1, out2))

	assert.Equal(t, 1, calls)
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, f.Stats())
}

func TestCall_ReversedViewMisses(t *testing.T) {
	calls := 0
	f := Wrap("double", double(&calls), NewMemoryBackend())
	ctx := context.Background()

	a := nd.Arange[int64](6)
	_, err := f.Call(ctx, a)
	require.NoError(t, err)

	out, err := f.Call(ctx, a.Reverse())
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 8, 6, 4, 2, 0}, out.Values())
	assert.Equal(t, 2, calls)
}

func TestCall_LayoutIndependentHit(t *testing.T) {
	calls := 0
	f := Wrap("double", double(&calls), NewMemoryBackend())
	ctx := context.Background()

	src := nd.MustFromSlice([]int64{1, 2, 3, 4, 5, 6}, 3, 2)
	tr, err := src.Transpose()
	require.NoError(t, err)

	_, err = f.Call(ctx, tr)
	require.NoError(t, err)
	_, err = f.Call(ctx, nd.MustFromSlice([]int64{1, 3, 5, 2, 4, 6}, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCall_ResultDoesNotAliasCache(t *testing.T) {
	calls := 0
	f := Wrap("double", double(&calls), NewMemoryBackend())
	ctx := context.Background()

	a := nd.Arange[int64](3)
	first, err := f.Call(ctx, a)
	require.NoError(t, err)
	first.Set(100, 0)

	second, err := f.Call(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2, 4}, second.Values())
}

func TestCall_FunctionError(t *testing.T) {
	boom := errors.New("boom")
	backend := NewMemoryBackend()
	f := Wrap("fail", func(*nd.Array[int64]) (*nd.Array[int64], error) {
		return nil, boom
	}, backend)

	_, err := f.Call(context.Background(), nd.Arange[int64](2))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, backend.Len(), "errors are not cached")
}

func TestCall_NameCollisionDetected(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	in := nd.Arange[int64](2)

	toFloat := Wrap("shared", func(a *nd.Array[int64]) (*nd.Array[float64], error) {
		return nd.FromSlice([]float64{0.5, 1.5}, 2)
	}, backend)
	_, err := toFloat.Call(ctx, in)
	require.NoError(t, err)

	calls := 0
	ints := Wrap("shared", double(&calls), backend)
	_, err = ints.Call(ctx, in)
	require.ErrorIs(t, err, ErrCachedDType)
}

func TestCall_LogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	calls := 0
	f := Wrap("double", double(&calls), NewMemoryBackend(), WithLogger(logger))
	ctx := context.Background()

	_, err := f.Call(ctx, nd.Arange[int64](2))
	require.NoError(t, err)
	_, err = f.Call(ctx, nd.Arange[int64](2))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "memo miss")
	assert.Contains(t, buf.String(), "memo hit")
	assert.Contains(t, buf.String(), "func=double")
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := NewMemoryBackend()
	var mu sync.Mutex
	calls := 0
	f := Wrap("square", func(a *nd.Array[int64]) (*nd.Array[int64], error) {
		mu.Lock()
		calls++
		mu.Unlock()
		vals := a.Values()
		for i := range vals {
			vals[i] *= vals[i]
		}
		return nd.FromSlice(vals, a.Shape()...)
	}, backend)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.Call(context.Background(), nd.Arange[int64](i%4+1))
			if err == nil && out.Size() != i%4+1 {
				t.Errorf("size = %d, want %d", out.Size(), i%4+1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, backend.Len())
	st := f.Stats()
	assert.Equal(t, int64(16), st.Hits+st.Misses)
}

func TestStoreBackend_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memo.db")
	ctx := context.Background()
	in := nd.MustFromSlice([]int64{3, 1, 2})

	s1, err := store.Open(path)
	require.NoError(t, err)
	calls := 0
	f1 := Wrap("double", double(&calls), StoreBackend{Store: s1})
	_, err = f1.Call(ctx, in)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })

	f2 := Wrap("double", double(&calls), StoreBackend{Store: s2})
	out, err := f2.Call(ctx, in.Copy())
	require.NoError(t, err)

	assert.Equal(t, []int64{6, 2, 4}, out.Values())
	assert.Equal(t, 1, calls, "second process reuses the stored result")
	assert.Equal(t, Stats{Hits: 1}, f2.Stats())
}
