package chunkaddr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/coldsnap/internal/chunkaddr"
)

func TestValidateChunkSize(t *testing.T) {
	require.NoError(t, chunkaddr.ValidateChunkSize(64*1024))
	require.NoError(t, chunkaddr.ValidateChunkSize(chunkaddr.MinChunkSize))

	assert.Error(t, chunkaddr.ValidateChunkSize(0))
	assert.Error(t, chunkaddr.ValidateChunkSize(-64*1024))
	assert.Error(t, chunkaddr.ValidateChunkSize(chunkaddr.MinChunkSize-1))
	assert.Error(t, chunkaddr.ValidateChunkSize(100))
}

func TestLastChunkAddr(t *testing.T) {
	const c = 64 * 1024

	// A 2 MiB volume has 32 chunks; the last starts at 31*64KiB.
	assert.EqualValues(t, 31*c, chunkaddr.LastChunkAddr(2*1024*1024, c))

	// Exactly one chunk.
	assert.EqualValues(t, 0, chunkaddr.LastChunkAddr(c, c))

	// One byte into the second chunk.
	assert.EqualValues(t, c, chunkaddr.LastChunkAddr(c+1, c))
}

func TestNumChunksAndChunkLen(t *testing.T) {
	const c = 64 * 1024

	assert.EqualValues(t, 4096, chunkaddr.NumChunks(256*1024*1024, c))
	assert.EqualValues(t, 1, chunkaddr.NumChunks(1, c))
	assert.EqualValues(t, 0, chunkaddr.NumChunks(0, c))

	assert.EqualValues(t, c, chunkaddr.ChunkLen(0, 2*c, c))
	assert.EqualValues(t, 10, chunkaddr.ChunkLen(c, c+10, c))
}

func TestHexRoundTrip(t *testing.T) {
	addr := int64(0x1f000)
	s := chunkaddr.Hex(addr)
	assert.Len(t, s, chunkaddr.AddressHexDigits)

	back, err := chunkaddr.ParseHex(s)
	require.NoError(t, err)
	assert.Equal(t, addr, back)
}

func TestSplitDir(t *testing.T) {
	dir, file := chunkaddr.SplitDir(0x1f000)
	assert.Len(t, dir, chunkaddr.SplitHexDigits)
	assert.Equal(t, "x"+chunkaddr.Hex(0x1f000), file)
}

func TestIndexAddr(t *testing.T) {
	const c = 64 * 1024
	assert.EqualValues(t, 1, chunkaddr.Index(0x1f000, c))
	assert.EqualValues(t, 0x10000, chunkaddr.Addr(1, c))
}
