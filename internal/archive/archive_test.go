package archive_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/coldsnap/internal/archive"
)

func TestSessionNameRoundTrip(t *testing.T) {
	localtime := time.Date(2026, 7, 30, 10, 20, 30, 0, time.Local)
	name := archive.NewSessionName(localtime)
	assert.Equal(t, "S_20260730-102030", name)

	parsed, err := archive.ParseSessionLocaltime(name)
	require.NoError(t, err)
	assert.True(t, localtime.Equal(parsed))
}

func TestParseSessionLocaltimeRejectsMalformed(t *testing.T) {
	_, err := archive.ParseSessionLocaltime("S_not-a-date")
	assert.Error(t, err)

	_, err = archive.ParseSessionLocaltime("garbage")
	assert.Error(t, err)
}

func TestManifestWriteReadRoundTrip(t *testing.T) {
	entries := []archive.ManifestEntry{
		{Hash: "0", Addr: 0},
		{Hash: "abc123", Addr: 65536},
	}

	var buf bytes.Buffer
	require.NoError(t, archive.WriteManifest(&buf, entries))

	got, err := archive.ReadManifest(&buf)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestManifestRejectsMalformedLine(t *testing.T) {
	_, err := archive.ReadManifest(bytes.NewBufferString("not-a-manifest-line\n"))
	assert.Error(t, err)
}

func TestMergeNewestWinsKeepsFirstOccurrence(t *testing.T) {
	newer := archive.AnnotateManifest("S_2", []archive.ManifestEntry{
		{Hash: "new-at-0", Addr: 0},
	})
	older := archive.AnnotateManifest("S_1", []archive.ManifestEntry{
		{Hash: "old-at-0", Addr: 0},
		{Hash: "old-at-65536", Addr: 65536},
	})

	merged := archive.MergeNewestWins(newer, older)
	require.Len(t, merged, 2)
	assert.Equal(t, "new-at-0", merged[0].Hash)
	assert.Equal(t, "old-at-65536", merged[1].Hash)
	// Ascending address order.
	assert.Less(t, merged[0].Addr, merged[1].Addr)
}

func TestTruncateFiltersByLastChunkAddr(t *testing.T) {
	entries := archive.AnnotateManifest("S_1", []archive.ManifestEntry{
		{Hash: "a", Addr: 0},
		{Hash: "b", Addr: 65536},
		{Hash: "c", Addr: 131072},
	})

	truncated := archive.Truncate(entries, 65536)
	require.Len(t, truncated, 2)
}

func TestVolumeAppendSessionEnforcesChain(t *testing.T) {
	v := archive.NewVolume("vol0")
	first := archive.NewFirstSession(time.Now(), 1024, archive.FormatFolders)
	require.NoError(t, v.AppendSession(first))

	bad := archive.NewFirstSession(time.Now(), 1024, archive.FormatFolders) // previous=none again
	assert.Error(t, v.AppendSession(bad))

	second := archive.NewNextSession(first, time.Now().Add(time.Hour), 2048, archive.FormatFolders)
	require.NoError(t, v.AppendSession(second))
	assert.Equal(t, second.Name, v.Last)
	assert.Equal(t, first.Name, v.First)
}

func TestArchiveIniRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := archive.New("myarchive", dir, 65536, archive.CompressionZlib, 6, "vg0", "pool0", "internal:/backups")
	_, err := a.AddVolume("vol0")
	require.NoError(t, err)

	require.NoError(t, archive.SaveArchiveIni(a))

	loaded, err := archive.LoadArchiveIni(dir)
	require.NoError(t, err)
	assert.Equal(t, a.ChunkSize, loaded.ChunkSize)
	assert.Equal(t, a.CompressionAlgo, loaded.CompressionAlgo)
	assert.Equal(t, a.UUID, loaded.UUID)
	assert.Contains(t, loaded.Volumes, "vol0")
}

func TestSessionInfoAndManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sessionDir := filepath.Join(dir, "S_20260730-102030")

	s := archive.NewFirstSession(time.Date(2026, 7, 30, 10, 20, 30, 0, time.Local), 2*1024*1024, archive.FormatFolders)
	s.Manifest = []archive.ManifestEntry{
		{Hash: "0", Addr: 0},
		{Hash: "deadbeef", Addr: 65536},
	}

	require.NoError(t, archive.SaveSessionInfo(sessionDir, s))

	var buf bytes.Buffer
	require.NoError(t, archive.WriteManifest(&buf, s.Manifest))
	require.NoError(t, os.WriteFile(filepath.Join(sessionDir, archive.ManifestName), buf.Bytes(), 0o644))

	loaded, err := archive.LoadSession(sessionDir)
	require.NoError(t, err)
	assert.Equal(t, s.Volsize, loaded.Volsize)
	assert.Equal(t, s.Manifest, loaded.Manifest)
}
