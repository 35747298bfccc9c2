package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tokex-io/bridge-go/common"
)

func putChain(t *testing.T, s *Store, from, to int64) []*Header {
	t.Helper()
	var hs []*Header
	prev := common.ByteSliceToPureHexStr(common.RandBytes(32))
	for h := from; h <= to; h++ {
		header := &Header{
			Hash:     common.ByteSliceToPureHexStr(common.RandBytes(32)),
			PrevHash: prev,
			Height:   h,
			Work:     fmt.Sprintf("%x", h*1000),
		}
		assert.NoError(t, s.PutHeader(header))
		prev = header.Hash
		hs = append(hs, header)
	}
	return hs
}

func TestHeaderWindow(t *testing.T) {
	s := getTestStore(t)

	chain := putChain(t, s, 100, 110)

	got, ok, err := s.GetHeader(chain[3].Hash)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, chain[3].PrevHash, got.PrevHash)

	got, ok, err = s.GetHeaderAtHeight(105)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, chain[5].Hash, got.Hash)

	min, ok, err := s.OldestRetainedHeight()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(100), min)

	// pruning slides the window forward
	assert.NoError(t, s.PruneHeadersBelow(105))
	min, ok, err = s.OldestRetainedHeight()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(105), min)

	// a rollback drops everything above the split point
	err = s.WithTx(func(tx *Tx) error { return tx.DeleteHeadersAbove(107) })
	assert.NoError(t, err)
	_, ok, err = s.GetHeaderAtHeight(108)
	assert.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.GetHeaderAtHeight(107)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRetainedHeaders(t *testing.T) {
	s := getTestStore(t)

	chain := putChain(t, s, 100, 104)
	// a leftover stale-branch header at a duplicated height, with less
	// work than the canonical one
	stale := &Header{
		Hash:     common.ByteSliceToPureHexStr(common.RandBytes(32)),
		PrevHash: chain[1].Hash,
		Height:   102,
		Work:     "1",
	}
	assert.NoError(t, s.PutHeader(stale))

	got, err := s.RetainedHeaders()
	assert.NoError(t, err)
	assert.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Height, got[i].Height)
	}
	// at the duplicated height the best-work header comes last, so a
	// caller filling a height-keyed map keeps the canonical hash
	byHeight := make(map[int64]string)
	for _, h := range got {
		byHeight[h.Height] = h.Hash
	}
	assert.Equal(t, chain[2].Hash, byHeight[102])
}
