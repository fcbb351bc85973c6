package sessionio_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/dedup"
	"github.com/prn-tf/coldsnap/internal/deltamap"
	"github.com/prn-tf/coldsnap/internal/sessionio"
)

type fakeSource struct {
	data []byte
}

func (s *fakeSource) ReadAt(addr, length int64) ([]byte, error) {
	out := make([]byte, length)
	copy(out, s.data[addr:addr+length])
	return out, nil
}

func TestSendAllFromFirstSessionSendsEverything(t *testing.T) {
	assert.Equal(t, int64(0), sessionio.SendAllFrom(true, 1<<20, 0))
}

func TestSendAllFromGrownVolumeSendsFromPriorSize(t *testing.T) {
	assert.Equal(t, int64(1<<20), sessionio.SendAllFrom(false, 2<<20, 1<<20))
}

func TestSendAllFromUnchangedSizeSendsOnlyDirty(t *testing.T) {
	volsize := int64(1 << 20)
	assert.Equal(t, volsize+1, sessionio.SendAllFrom(false, volsize, volsize))
}

func TestPlanFirstSessionEmitsZeroHoleAndChunk(t *testing.T) {
	chunkSize := int64(65536)
	volsize := 2 * chunkSize
	data := make([]byte, volsize)
	for i := range data[chunkSize:] {
		data[chunkSize+i] = 0xAB
	}

	v := archive.NewVolume("vol0")
	w := sessionio.New(zerolog.Nop())
	entries, err := w.Plan(context.Background(), "S_1", sessionio.Params{
		Volume:           v,
		Source:           &fakeSource{data: data},
		DeltaMap:         deltamap.NewForVolume(volsize, chunkSize),
		PriorVolsize:     0,
		Volsize:          volsize,
		ChunkSize:        chunkSize,
		CompressionLevel: 6,
		ArchivePathOf:    func(sessionIndex int, addr int64) string { return "session" },
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, sessionio.EntryZero, entries[0].Kind)
	assert.Equal(t, "0", entries[0].Hash)
	assert.Equal(t, sessionio.EntryChunk, entries[1].Kind)
	assert.NotEmpty(t, entries[1].Payload)
}

func TestPlanOnlyEmitsDirtyChunksForUnchangedSize(t *testing.T) {
	chunkSize := int64(65536)
	volsize := 2 * chunkSize
	data := make([]byte, volsize)
	for i := range data {
		data[i] = 0xCD
	}

	v := archive.NewVolume("vol0")
	require.NoError(t, v.AppendSession(archive.NewFirstSession(time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC), volsize, archive.FormatFolders)))

	m := deltamap.NewForVolume(volsize, chunkSize)
	m.Set(1) // only the second chunk is dirty

	w := sessionio.New(zerolog.Nop())
	entries, err := w.Plan(context.Background(), "S_2", sessionio.Params{
		Volume:           v,
		Source:           &fakeSource{data: data},
		DeltaMap:         m,
		PriorVolsize:     volsize,
		Volsize:          volsize,
		ChunkSize:        chunkSize,
		CompressionLevel: 6,
		ArchivePathOf:    func(sessionIndex int, addr int64) string { return "session" },
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, chunkSize, entries[0].Addr)
}

func TestPlanDedupEmitsLinkOnSecondMatch(t *testing.T) {
	chunkSize := int64(65536)
	volsize := chunkSize
	data := make([]byte, volsize)
	for i := range data {
		data[i] = 0x42
	}

	idx := dedup.NewMemoryIndex()
	require.NoError(t, idx.Insert(context.Background(), mustHash(t, data, 6), dedup.Entry{SessionIndex: 0, Addr: 0}))

	v := archive.NewVolume("vol0")
	w := sessionio.New(zerolog.Nop())
	entries, err := w.Plan(context.Background(), "S_2", sessionio.Params{
		Volume:           v,
		Source:           &fakeSource{data: data},
		DeltaMap:         deltamap.NewForVolume(volsize, chunkSize),
		PriorVolsize:     0,
		Volsize:          volsize,
		ChunkSize:        chunkSize,
		CompressionLevel: 6,
		DedupIndex:       idx,
		SessionIndex:     1,
		ArchivePathOf:    func(sessionIndex int, addr int64) string { return "session/link" },
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sessionio.EntryLink, entries[0].Kind)
}

func TestReceiverRejectsHashMismatch(t *testing.T) {
	chunkSize := int64(65536)
	volsize := chunkSize
	payload := compressFixture(t, bytes.Repeat([]byte{0x1}, int(chunkSize)), 6)

	var stream bytes.Buffer
	writeFrame(&stream, payload)

	entries := []archive.ManifestEntry{{Hash: hex.EncodeToString(make([]byte, sha256.Size)), Addr: 0}}
	r := sessionio.NewReceiver(zerolog.Nop())
	err := r.Receive(&stream, entries, volsize, chunkSize, sessionio.DiscardSink{})
	assert.Error(t, err)
}

func TestReceiverDeliversZeroHoleWithoutReadingStream(t *testing.T) {
	chunkSize := int64(65536)
	volsize := chunkSize
	entries := []archive.ManifestEntry{{Hash: "0", Addr: 0}}

	r := sessionio.NewReceiver(zerolog.Nop())
	err := r.Receive(&bytes.Buffer{}, entries, volsize, chunkSize, sessionio.DiscardSink{})
	assert.NoError(t, err)
}

func mustHash(t *testing.T, raw []byte, level int) string {
	t.Helper()
	compressed := compressFixture(t, raw, level)
	sum := sha256.Sum256(compressed)
	return hex.EncodeToString(sum[:])
}

func compressFixture(t *testing.T, raw []byte, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	require.NoError(t, err)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFrame(buf *bytes.Buffer, payload []byte) {
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	buf.Write(sizeBuf[:])
	buf.Write(payload)
}
