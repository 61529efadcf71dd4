package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

func TestGenerationalCachePromotesOnSecondHit(t *testing.T) {
	c, err := newGenerationalCache(100)
	require.NoError(t, err)

	entry := &types.MapperEntry{RowSignature: "sig"}
	c.put("sig", entry)

	_, ok := c.gen1.Get("sig")
	assert.False(t, ok, "a fresh entry starts in Gen-0")

	c.recordHit("sig", entry)
	_, ok = c.gen1.Get("sig")
	assert.False(t, ok, "first hit does not yet promote")
	assert.EqualValues(t, 1, entry.Hits)

	c.recordHit("sig", entry)
	_, ok = c.gen1.Get("sig")
	assert.True(t, ok, "second hit promotes to Gen-1")
	assert.EqualValues(t, 2, entry.Hits)

	_, stillGen0 := c.gen0["sig"]
	assert.False(t, stillGen0)
}

func TestGenerationalCacheGetChecksBothTiers(t *testing.T) {
	c, err := newGenerationalCache(100)
	require.NoError(t, err)

	entry := &types.MapperEntry{RowSignature: "sig"}
	c.put("sig", entry)

	got, ok := c.get("sig")
	require.True(t, ok)
	assert.Same(t, entry, got)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestGenerationalCachePrunesAtCapacity(t *testing.T) {
	c, err := newGenerationalCache(4)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		key := string(rune('a' + i))
		c.put(key, &types.MapperEntry{RowSignature: key})
	}

	assert.Less(t, len(c.gen0), 4, "hitting capacity prunes Gen-0 rather than growing unbounded")
}

func TestPruneRandomHalfRemovesFromMap(t *testing.T) {
	m := make(map[string]*types.MapperEntry, 200)
	for i := 0; i < 200; i++ {
		key := string(rune(i))
		m[key] = &types.MapperEntry{RowSignature: key}
	}
	removed := pruneRandomHalf(m)
	assert.Greater(t, removed, 0)
	assert.Less(t, removed, 200)
	assert.Equal(t, 200-removed, len(m))
}

func TestPruneRandomHalfEmptyMap(t *testing.T) {
	m := make(map[string]*types.MapperEntry)
	assert.Equal(t, 0, pruneRandomHalf(m))
}
