package deltamap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/coldsnap/internal/deltamap"
)

func TestGetSet(t *testing.T) {
	m := deltamap.New(100)

	assert.False(t, m.Get(42))
	m.Set(42)
	assert.True(t, m.Get(42))
	assert.False(t, m.Get(41))
	assert.False(t, m.Get(43))
}

func TestClearAll(t *testing.T) {
	m := deltamap.New(100)
	m.Set(1)
	m.Set(50)
	require.False(t, m.IsAllZero())

	m.ClearAll()
	assert.True(t, m.IsAllZero())
	assert.False(t, m.Get(1))
}

func TestResizeGrowShrink(t *testing.T) {
	m := deltamap.New(10)
	m.Set(5)

	m.Resize(1000)
	assert.True(t, m.Get(5))
	assert.False(t, m.Get(500))

	m.Resize(4)
	assert.Less(t, m.Size(), 10)
}

func TestSetGrowsBacking(t *testing.T) {
	m := deltamap.New(1)
	m.Set(900)
	assert.True(t, m.Get(900))
}

func TestStoreCommitAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := deltamap.NewStore(dir)

	assert.False(t, store.Exists())

	m := deltamap.New(100)
	m.Set(7)
	require.NoError(t, store.BeginWrite(m))

	// -tmp exists, not yet committed: base file absent.
	_, err := os.Stat(filepath.Join(dir, deltamap.BaseName))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Commit())

	_, err = os.Stat(filepath.Join(dir, deltamap.TmpName))
	assert.True(t, os.IsNotExist(err), "tmp file should be renamed away on commit")

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Get(7))
}

func TestStoreTmpSupersedesBaseOnLoad(t *testing.T) {
	dir := t.TempDir()
	store := deltamap.NewStore(dir)

	base := deltamap.New(100)
	base.Set(1)
	require.NoError(t, store.BeginWrite(base))
	require.NoError(t, store.Commit())

	// A subsequent in-progress write leaves a -tmp sibling without
	// committing - simulates a crash after BeginWrite but before Commit.
	tmp := deltamap.New(100)
	tmp.Set(1)
	tmp.Set(2)
	require.NoError(t, store.BeginWrite(tmp))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Get(2), "recovery must adopt the -tmp map as current")
}

func TestCommitZeroed(t *testing.T) {
	dir := t.TempDir()
	store := deltamap.NewStore(dir)

	m := deltamap.New(100)
	m.Set(3)
	require.NoError(t, store.BeginWrite(m))
	require.NoError(t, store.Commit())

	require.NoError(t, store.CommitZeroed(100))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.IsAllZero())
}
