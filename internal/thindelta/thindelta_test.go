package thindelta_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/coldsnap/internal/deltamap"
	"github.com/prn-tf/coldsnap/internal/thindelta"
)

const sampleXML = `<diff>
  <same begin="0" length="10"/>
  <different begin="10" length="2"/>
  <left_only begin="20" length="1"/>
  <right_only begin="30" length="3"/>
</diff>`

func TestParse(t *testing.T) {
	regions, err := thindelta.Parse(strings.NewReader(sampleXML))
	require.NoError(t, err)
	require.Len(t, regions, 4)

	assert.Equal(t, thindelta.KindSame, regions[0].Kind)
	assert.Equal(t, thindelta.KindDifferent, regions[1].Kind)
	assert.EqualValues(t, 10, regions[1].Begin)
	assert.EqualValues(t, 2, regions[1].Length)
	assert.Equal(t, thindelta.KindLeftOnly, regions[2].Kind)
	assert.Equal(t, thindelta.KindRightOnly, regions[3].Kind)
}

func TestTranslateMarksDifferentAndRightOnlyDirtyAndCounts(t *testing.T) {
	const dataBlockSize = 128 // 128 * 512 = 65536 bytes per thin block
	const chunkSize = 65536   // matches thin block size exactly for simplicity

	regions := []thindelta.Region{
		{Kind: thindelta.KindDifferent, Begin: 0, Length: 1},
		{Kind: thindelta.KindRightOnly, Begin: 2, Length: 1},
		{Kind: thindelta.KindSame, Begin: 5, Length: 1},
	}

	m := deltamap.New(100)
	counts, err := thindelta.Translate(m, regions, dataBlockSize, chunkSize)
	require.NoError(t, err)

	assert.True(t, m.Get(0))
	assert.True(t, m.Get(2))
	assert.False(t, m.Get(5))
	assert.EqualValues(t, 2, counts.WrittenBlocks)
	assert.EqualValues(t, 0, counts.FreedBlocks)
}

func TestTranslateLeftOnlyMarksDirtyAndCountsFreed(t *testing.T) {
	const dataBlockSize = 128
	const chunkSize = 65536

	regions := []thindelta.Region{
		{Kind: thindelta.KindLeftOnly, Begin: 4, Length: 1},
	}

	m := deltamap.New(100)
	counts, err := thindelta.Translate(m, regions, dataBlockSize, chunkSize)
	require.NoError(t, err)

	assert.True(t, m.Get(4), "left_only regions must still be marked dirty (spec.md open question)")
	assert.EqualValues(t, 1, counts.FreedBlocks)
	assert.EqualValues(t, 0, counts.WrittenBlocks)
}

func TestTranslateStaysInOneChunkWhenBlockSmallerThanChunk(t *testing.T) {
	const dataBlockSize = 1 // 512 bytes per thin block
	const chunkSize = 65536 // archive chunk much larger than thin block

	// A region covering bytes [0, 1024) should dirty only chunk 0.
	regions := []thindelta.Region{
		{Kind: thindelta.KindDifferent, Begin: 0, Length: 2},
	}

	m := deltamap.New(10)
	_, err := thindelta.Translate(m, regions, dataBlockSize, chunkSize)
	require.NoError(t, err)
	assert.True(t, m.Get(0))
	assert.False(t, m.Get(1))
}

func TestTranslateRejectsBadChunkSize(t *testing.T) {
	m := deltamap.New(10)
	_, err := thindelta.Translate(m, nil, 128, 100)
	assert.Error(t, err)
}
