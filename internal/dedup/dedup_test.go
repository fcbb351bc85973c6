package dedup_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/coldsnap/internal/dedup"
)

func TestMemoryIndexInsertIsNoOpOnDuplicate(t *testing.T) {
	ctx := context.Background()
	idx := dedup.NewMemoryIndex()

	require.NoError(t, idx.Insert(ctx, "abc", dedup.Entry{SessionIndex: 0, Addr: 65536}))
	require.NoError(t, idx.Insert(ctx, "abc", dedup.Entry{SessionIndex: 5, Addr: 0}))

	e, ok, err := idx.Lookup(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, e.SessionIndex)
	assert.Equal(t, int64(65536), e.Addr)
}

func TestMemoryIndexLookupMiss(t *testing.T) {
	idx := dedup.NewMemoryIndex()
	_, ok, err := idx.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildFromManifestsEarliestWins(t *testing.T) {
	ctx := context.Background()
	idx := dedup.NewMemoryIndex()

	sessions := []dedup.ManifestSource{
		{SessionIndex: 0, Hashes: []dedup.HashAddr{{Hash: "h1", Addr: 0}, {Hash: "0", Addr: 65536}}},
		{SessionIndex: 1, Hashes: []dedup.HashAddr{{Hash: "h1", Addr: 131072}, {Hash: "h2", Addr: 0}}},
	}
	require.NoError(t, dedup.BuildFromManifests(ctx, idx, sessions))

	e, ok, err := idx.Lookup(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, e.SessionIndex) // earliest session wins, not session 1's later entry.
	assert.Equal(t, int64(0), e.Addr)

	_, ok, err = idx.Lookup(ctx, "0")
	require.NoError(t, err)
	assert.False(t, ok, "the zero-hash hole marker must never be indexed")

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
