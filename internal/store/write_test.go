package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
)

func TestPutArray_InsertsOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := nd.MustFromSlice([]int64{1, 2, 3, 4, 5, 6}, 2, 3)

	fp, inserted, err := s.PutArray(ctx, a)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, digest.MustOf(a), fp)

	fp2, inserted, err := s.PutArray(ctx, a.Copy())
	require.NoError(t, err)
	assert.False(t, inserted, "same content is stored once")
	assert.Equal(t, fp, fp2)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Arrays)
	assert.Equal(t, int64(48), st.DataBytes)
}

func TestPutArray_ViewDeduplicatesWithCopy(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	view := nd.Arange[int64](6).Reverse()
	_, inserted, err := s.PutArray(ctx, view)
	require.NoError(t, err)
	require.True(t, inserted)

	_, inserted, err = s.PutArray(ctx, nd.MustFromSlice([]int64{5, 4, 3, 2, 1, 0}))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestPutArray_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, _, err := s.PutArray(ctx, nd.Arange[int32](i))
		require.NoError(t, err)
	}

	records, err := s.ListArrays(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, int64(i+1), rec.Seq)
		assert.Equal(t, s.SessionID(), rec.SessionID)
	}
}

func TestPutArray_EmptyArray(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := nd.Zeros[float64](2, 0)
	require.NoError(t, err)

	fp, inserted, err := s.PutArray(ctx, empty)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := GetArray[float64](ctx, s, fp)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, got.Shape())
}

func TestSaveMemo_StoresOutputAndIgnoresRepeat(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := digest.MustOf(nd.Arange[int64](3))
	first := nd.MustFromSlice([]int64{0, 2, 4})
	second := nd.MustFromSlice([]int64{9, 9, 9})

	require.NoError(t, s.SaveMemo(ctx, "double", in, first))
	require.NoError(t, s.SaveMemo(ctx, "double", in, second))

	out, ok, err := s.LookupMemo(ctx, "double", in)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, digest.MustOf(first), digest.MustOf(out), "first entry wins")

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.MemoEntries)
}

func TestDeleteArray_CascadesMemo(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := digest.MustOf(nd.Arange[int64](2))
	out := nd.MustFromSlice([]int64{7, 7})
	require.NoError(t, s.SaveMemo(ctx, "fill", in, out))

	deleted, err := s.DeleteArray(ctx, digest.MustOf(out))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err := s.LookupMemo(ctx, "fill", in)
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.MemoEntries)

	deleted, err = s.DeleteArray(ctx, digest.MustOf(out))
	require.NoError(t, err)
	assert.False(t, deleted)
}
