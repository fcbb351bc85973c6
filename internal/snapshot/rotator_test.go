package snapshot_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/deltamap"
	"github.com/prn-tf/coldsnap/internal/snapshot"
)

type fakeDriver struct {
	snapshots map[string]bool // volume+suffix -> exists
}

func newFakeDriver() *fakeDriver { return &fakeDriver{snapshots: make(map[string]bool)} }

func (d *fakeDriver) key(volume, suffix string) string { return volume + "@" + suffix }

func (d *fakeDriver) CreateSnapshot(ctx context.Context, volume, suffix string) error {
	d.snapshots[d.key(volume, suffix)] = true
	return nil
}

func (d *fakeDriver) RemoveSnapshot(ctx context.Context, volume, suffix string) error {
	delete(d.snapshots, d.key(volume, suffix))
	return nil
}

func (d *fakeDriver) RenameSnapshot(ctx context.Context, volume, from, to string) error {
	delete(d.snapshots, d.key(volume, from))
	d.snapshots[d.key(volume, to)] = true
	return nil
}

func (d *fakeDriver) SnapshotExists(ctx context.Context, volume, suffix string) (bool, error) {
	return d.snapshots[d.key(volume, suffix)], nil
}

func (d *fakeDriver) VolumeSize(ctx context.Context, volume, suffix string) (int64, error) {
	return 4 * 1024 * 1024, nil
}

func TestEnsureReadyCreatesBaselineTick(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	store := deltamap.NewStore(t.TempDir())

	r := snapshot.New(driver, store, "vol0", false, zerolog.Nop())
	require.NoError(t, r.EnsureReady(ctx))

	exists, err := driver.SnapshotExists(ctx, "vol0", "tick")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEnsureReadyFailsWhenMapExistsWithoutTick(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	store := deltamap.NewStore(t.TempDir())

	r := snapshot.New(driver, store, "vol0", true, zerolog.Nop())
	err := r.EnsureReady(ctx)
	assert.Error(t, err)
}

func TestBeginDeltaRemovesStaleTock(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	store := deltamap.NewStore(t.TempDir())
	_ = driver.CreateSnapshot(ctx, "vol0", "tick")
	_ = driver.CreateSnapshot(ctx, "vol0", "tock") // stale from a previous run

	r := snapshot.New(driver, store, "vol0", true, zerolog.Nop())
	require.NoError(t, r.BeginDelta(ctx))

	exists, err := driver.SnapshotExists(ctx, "vol0", "tock")
	require.NoError(t, err)
	assert.True(t, exists, "a fresh .tock should exist after BeginDelta")
}

func TestCommitDataChangedPromotesTockAndZeroesMap(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	dir := t.TempDir()
	store := deltamap.NewStore(dir)

	m := deltamap.NewForVolume(1024*1024, 65536)
	m.Set(3)
	require.NoError(t, store.BeginWrite(m))
	require.NoError(t, store.Commit())

	_ = driver.CreateSnapshot(ctx, "vol0", "tick")
	_ = driver.CreateSnapshot(ctx, "vol0", "tock")

	r := snapshot.New(driver, store, "vol0", true, zerolog.Nop())
	require.NoError(t, r.CommitDataChanged(ctx, chunkaddr.NumChunks(1024*1024, 65536)))

	tickExists, _ := driver.SnapshotExists(ctx, "vol0", "tick")
	tockExists, _ := driver.SnapshotExists(ctx, "vol0", "tock")
	assert.True(t, tickExists, ".tock should have been promoted to .tick")
	assert.False(t, tockExists)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.IsAllZero())
}

func TestCommitMonitorPassPromotesTockWithoutZeroingMap(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	dir := t.TempDir()
	store := deltamap.NewStore(dir)

	m := deltamap.NewForVolume(1024*1024, 65536)
	m.Set(3)
	require.NoError(t, store.BeginWrite(m))
	require.NoError(t, store.Commit())

	_ = driver.CreateSnapshot(ctx, "vol0", "tick")
	_ = driver.CreateSnapshot(ctx, "vol0", "tock")

	r := snapshot.New(driver, store, "vol0", true, zerolog.Nop())
	require.NoError(t, r.CommitMonitorPass(ctx))

	tickExists, _ := driver.SnapshotExists(ctx, "vol0", "tick")
	tockExists, _ := driver.SnapshotExists(ctx, "vol0", "tock")
	assert.True(t, tickExists, ".tock should have been promoted to .tick")
	assert.False(t, tockExists)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.False(t, loaded.IsAllZero(), "monitor must not zero the map; only a real send does")
}

func TestCommitDataUnchangedRemovesTockOnly(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	store := deltamap.NewStore(t.TempDir())
	_ = driver.CreateSnapshot(ctx, "vol0", "tick")
	_ = driver.CreateSnapshot(ctx, "vol0", "tock")

	r := snapshot.New(driver, store, "vol0", true, zerolog.Nop())
	require.NoError(t, r.CommitDataUnchanged(ctx))

	tickExists, _ := driver.SnapshotExists(ctx, "vol0", "tick")
	tockExists, _ := driver.SnapshotExists(ctx, "vol0", "tock")
	assert.True(t, tickExists)
	assert.False(t, tockExists)
}
