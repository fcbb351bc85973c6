package merge_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/merge"
)

const chunkSize = int64(65536)

func buildVolume(t *testing.T) *archive.Volume {
	t.Helper()
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	v := archive.NewVolume("vol0")

	s1 := archive.NewFirstSession(base, 4*chunkSize, archive.FormatFolders)
	s1.Manifest = []archive.ManifestEntry{
		{Hash: "aaa1", Addr: 0},
		{Hash: "0", Addr: chunkSize},
	}
	require.NoError(t, v.AppendSession(s1))

	s2 := archive.NewNextSession(s1, base.Add(time.Hour), 4*chunkSize, archive.FormatFolders)
	s2.Manifest = []archive.ManifestEntry{
		{Hash: "bbb1", Addr: chunkSize},
	}
	require.NoError(t, v.AppendSession(s2))

	s3 := archive.NewNextSession(s2, base.Add(2*time.Hour), 4*chunkSize, archive.FormatFolders)
	s3.Manifest = []archive.ManifestEntry{
		{Hash: "ccc1", Addr: 2 * chunkSize},
	}
	require.NoError(t, v.AppendSession(s3))

	s4 := archive.NewNextSession(s3, base.Add(3*time.Hour), 4*chunkSize, archive.FormatFolders)
	s4.Manifest = []archive.ManifestEntry{
		{Hash: "ddd1", Addr: 3 * chunkSize},
	}
	require.NoError(t, v.AppendSession(s4))

	return v
}

func TestShouldMergeRejectsMostRecentSession(t *testing.T) {
	v := buildVolume(t)
	_, err := merge.ShouldMerge(v, v.SessionOrder[2], v.SessionOrder[3])
	assert.Error(t, err)
}

func TestShouldMergeRejectsUnknownSession(t *testing.T) {
	v := buildVolume(t)
	_, err := merge.ShouldMerge(v, "S_nonexistent", v.SessionOrder[1])
	assert.Error(t, err)
}

func TestShouldMergeRejectsUnorderedRange(t *testing.T) {
	v := buildVolume(t)
	_, err := merge.ShouldMerge(v, v.SessionOrder[1], v.SessionOrder[0])
	assert.Error(t, err)
}

func TestShouldMergeRejectsTarFormattedSession(t *testing.T) {
	v := buildVolume(t)
	v.Sessions[v.SessionOrder[1]].Format = archive.FormatTar
	_, err := merge.ShouldMerge(v, v.SessionOrder[0], v.SessionOrder[1])
	assert.Error(t, err)
}

func TestShouldMergeReturnsSessionAfterRange(t *testing.T) {
	v := buildVolume(t)
	target, err := merge.ShouldMerge(v, v.SessionOrder[0], v.SessionOrder[1])
	require.NoError(t, err)
	assert.Equal(t, v.SessionOrder[2], target)
}

func TestBuildMergesRangeIntoTarget(t *testing.T) {
	v := buildVolume(t)
	t1, t2 := v.SessionOrder[0], v.SessionOrder[1]

	plan, err := merge.Build(v, t1, t2, chunkSize)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{t1, t2}, plan.PrunedNames)

	byAddr := make(map[int64]archive.ManifestEntry, len(plan.NewManifest))
	for _, e := range plan.NewManifest {
		byAddr[e.Addr] = e
	}
	require.Contains(t, byAddr, int64(0))
	assert.Equal(t, "aaa1", byAddr[0].Hash)
	require.Contains(t, byAddr, chunkSize)
	assert.Equal(t, "bbb1", byAddr[chunkSize].Hash)
	require.Contains(t, byAddr, 2*chunkSize)
	assert.Equal(t, "ccc1", byAddr[2*chunkSize].Hash)

	// The chunk at address 0 already lives in merge_target's own directory
	// and needs no command. Every other surviving chunk — including the
	// one owned by target itself — must be renamed in from wherever it
	// currently resides, since merge_target's directory is what ends up
	// renamed to target's name once the merge completes.
	var renamedAddrs []int64
	for _, c := range plan.Commands {
		if c.Kind == merge.CommandRename {
			renamedAddrs = append(renamedAddrs, c.Addr)
		}
		if c.Addr == 0 {
			t.Fatalf("chunk already resident at merge target should not produce a command")
		}
	}
	assert.ElementsMatch(t, []int64{chunkSize, 2 * chunkSize}, renamedAddrs)
}

func TestBuildHonorsShrinkTruncation(t *testing.T) {
	v := buildVolume(t)
	t1, t2 := v.SessionOrder[0], v.SessionOrder[1]
	target := v.Sessions[v.SessionOrder[2]]
	target.Volsize = chunkSize // shrink: only address 0 remains valid

	plan, err := merge.Build(v, t1, t2, chunkSize)
	require.NoError(t, err)

	for _, e := range plan.NewManifest {
		assert.LessOrEqual(t, e.Addr, int64(0))
	}
}

func TestApplyRelinksFollowingSessionAndRemovesPruned(t *testing.T) {
	v := buildVolume(t)
	t1, t2 := v.SessionOrder[0], v.SessionOrder[1]
	targetName := v.SessionOrder[2]
	lastName := v.SessionOrder[3]

	plan, err := merge.Build(v, t1, t2, chunkSize)
	require.NoError(t, err)

	require.NoError(t, merge.Apply(v, plan, targetName))

	assert.Equal(t, archive.NonePrevious, v.Sessions[targetName].Previous)
	assert.NotContains(t, v.Sessions, t1)
	assert.NotContains(t, v.Sessions, t2)
	assert.Equal(t, []string{targetName, lastName}, v.SessionOrder)
}
