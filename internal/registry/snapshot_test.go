package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeEmpty(t *testing.T) {
	body, err := Serialize(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

func TestSerializeAndLoadRoundTrip(t *testing.T) {
	r := New(nil)
	r.Insert("g1", Item{State: StateSended, TsAdded: 100})
	r.Insert("g2", Item{State: StateSending, TsAdded: 200})

	body, err := Serialize(r.Snapshot())
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	loaded, err := LoadFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, loaded.Iterate())

	item, ok := loaded.Get("g1")
	require.True(t, ok)
	assert.Equal(t, StateSended, item.State)
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	dir := t.TempDir()
	loaded, err := LoadFile(filepath.Join(dir, "does-not-exist.json"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestLoadFileEmptyFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	loaded, err := LoadFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestSnapshotterWritesOnlyWhenHashChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")

	r := New(nil)
	r.Insert("g1", Item{State: StateSending})

	snap := NewSnapshotter(r, path, time.Hour, 1<<30, 0, nil)
	snap.tick()
	info1, err := os.Stat(path)
	require.NoError(t, err)

	snap.tick()
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime(), "second tick with no mutation must not rewrite the file")

	r.AppendEvent("g1", "mailer", "progress")
	time.Sleep(5 * time.Millisecond)
	snap.tick()
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "progress")
}

func TestSnapshotterEvictsOldestWhenOverCeiling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")

	r := New(nil)
	r.Insert("a", Item{State: StateSending})
	r.Insert("b", Item{State: StateSending})

	snap := NewSnapshotter(r, path, time.Hour, 10, 0, nil)
	snap.tick()

	assert.Equal(t, 1, r.Len())
}

func TestSnapshotterEvictsOldestWhenOverEntryCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")

	r := New(nil)
	r.Insert("a", Item{State: StateSending})
	r.Insert("b", Item{State: StateSending})
	r.Insert("c", Item{State: StateSending})

	snap := NewSnapshotter(r, path, time.Hour, 1<<30, 2, nil)
	snap.tick()

	assert.Equal(t, 2, r.Len())
	_, ok := r.Get("a")
	assert.False(t, ok, "oldest entry must be evicted first")
}

func TestSnapshotterRunSavesOnDone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")

	r := New(nil)
	r.Insert("g1", Item{State: StateSending})

	snap := NewSnapshotter(r, path, time.Hour, 1<<30, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		snap.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
