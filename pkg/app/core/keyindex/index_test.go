package keyindex

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
)

func entry(n byte, price, at int64, seq uint64) Entry {
	return Entry{Key: common.Hash{n}, Price: price, SubmittedAt: at, Seq: seq}
}

func keysOf(entries []Entry) []byte {
	out := make([]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Key[0]
	}
	return out
}

func TestPriceTimeOrdering(t *testing.T) {
	tests := []struct {
		name string
		dir  Direction
		want []byte
	}{
		{"asks lowest first", Ascending, []byte{3, 1, 4, 2}},
		{"bids highest first", Descending, []byte{2, 1, 4, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := New(tt.dir)
			require.NoError(t, ix.Insert(entry(1, 10, 100, 1)))
			require.NoError(t, ix.Insert(entry(2, 12, 90, 2)))
			require.NoError(t, ix.Insert(entry(3, 8, 120, 3)))
			require.NoError(t, ix.Insert(entry(4, 10, 100, 4))) // same price and time as 1, later seq

			assert.Equal(t, tt.want, keysOf(ix.Entries()))
			best, ok := ix.Best()
			require.True(t, ok)
			assert.Equal(t, tt.want[0], best.Key[0])
		})
	}
}

func TestInsertDuplicateKey(t *testing.T) {
	ix := New(Ascending)
	require.NoError(t, ix.Insert(entry(1, 10, 1, 1)))

	err := ix.Insert(entry(1, 99, 2, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDuplicateID))
	assert.Equal(t, 1, ix.Len())
}

func TestRemoveCompacts(t *testing.T) {
	ix := New(Ascending)
	for i := byte(1); i <= 5; i++ {
		require.NoError(t, ix.Insert(entry(i, int64(i), 0, uint64(i))))
	}

	_, err := ix.Remove(common.Hash{3})
	require.NoError(t, err)
	assert.False(t, ix.Contains(common.Hash{3}))
	assert.Equal(t, []byte{1, 2, 4, 5}, keysOf(ix.Entries()))

	e, err := ix.RemoveAt(0)
	require.NoError(t, err)
	assert.Equal(t, byte(1), e.Key[0])
	at, ok := ix.At(0)
	require.True(t, ok)
	assert.Equal(t, byte(2), at.Key[0])
	assert.Equal(t, 3, ix.Len())

	_, err = ix.Remove(common.Hash{3})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	_, err = ix.RemoveAt(7)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestFrontStopsAtCriteria(t *testing.T) {
	ix := New(Ascending)
	require.NoError(t, ix.Insert(entry(1, 5, 0, 1)))
	require.NoError(t, ix.Insert(entry(2, 6, 0, 2)))
	require.NoError(t, ix.Insert(entry(3, 9, 0, 3)))

	var got []byte
	for e := range ix.Front(func(e Entry) bool { return e.Price <= 6 }) {
		got = append(got, e.Key[0])
	}
	assert.Equal(t, []byte{1, 2}, got)

	got = got[:0]
	for e := range ix.Front(nil) {
		got = append(got, e.Key[0])
	}
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestFrontToleratesRemovalDuringIteration(t *testing.T) {
	ix := New(Descending)
	for i := byte(1); i <= 4; i++ {
		require.NoError(t, ix.Insert(entry(i, 100-int64(i), 0, uint64(i))))
	}

	var got []byte
	for e := range ix.Front(nil) {
		got = append(got, e.Key[0])
		_, err := ix.Remove(e.Key)
		require.NoError(t, err)
	}
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
	assert.Equal(t, 0, ix.Len())
}

func TestFrontIsRestartable(t *testing.T) {
	ix := New(Ascending)
	require.NoError(t, ix.Insert(entry(1, 1, 0, 1)))
	require.NoError(t, ix.Insert(entry(2, 2, 0, 2)))

	for e := range ix.Front(nil) {
		assert.Equal(t, byte(1), e.Key[0])
		break
	}
	require.NoError(t, ix.Insert(entry(9, 0, 0, 9)))
	for e := range ix.Front(nil) {
		assert.Equal(t, byte(9), e.Key[0])
		break
	}
}
