package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VetheonGames/galaxydl/internal/cache"
	"github.com/VetheonGames/galaxydl/internal/diffengine"
	"github.com/VetheonGames/galaxydl/internal/journal"
	"github.com/VetheonGames/galaxydl/internal/manifest"
	"github.com/VetheonGames/galaxydl/internal/task"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestPlanFreshInstallEmitsOpenChunkClose(t *testing.T) {
	diff := &diffengine.Diff{
		New: diffengine.WrapGen2([]manifest.DepotFile{{
			Path: "game.bin",
			Chunks: []manifest.Chunk{
				{CompressedMD5: "c1", MD5: "u1", Size: 100, CompressedSize: 40},
			},
		}}),
	}

	plan, err := Plan(diff, Options{InstallRoot: t.TempDir(), Cache: newTestCache(t)})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, task.KindFile, plan.Tasks[0].Kind)
	assert.True(t, plan.Tasks[0].File.Flags.Has(task.FlagOpen))
	assert.Equal(t, task.KindChunk, plan.Tasks[1].Kind)
	assert.True(t, plan.Tasks[1].Chunk.FromNetwork)
	assert.Equal(t, task.KindFile, plan.Tasks[2].Kind)
	assert.True(t, plan.Tasks[2].File.Flags.Has(task.FlagClose))
	assert.Greater(t, plan.ArenaBytes, 0)
	assert.Greater(t, plan.NumSegments, 0)
}

func TestPlanDeletedEntryEmitsDeleteTask(t *testing.T) {
	diff := &diffengine.Diff{
		Deleted: diffengine.WrapGen2([]manifest.DepotFile{{Path: "old.txt"}}),
	}

	plan, err := Plan(diff, Options{InstallRoot: t.TempDir(), Cache: newTestCache(t)})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.True(t, plan.Tasks[0].File.Flags.Has(task.FlagDelete))
}

func TestPlanReturnsErrNotEnoughDiskWhenScratchExceedsFree(t *testing.T) {
	diff := &diffengine.Diff{
		New: diffengine.WrapGen2([]manifest.DepotFile{{
			Path:   "big.bin",
			Chunks: []manifest.Chunk{{CompressedMD5: "c1", MD5: "u1", Size: 1 << 20, CompressedSize: 1 << 19}},
		}}),
	}

	_, err := Plan(diff, Options{InstallRoot: t.TempDir(), Cache: newTestCache(t), FreeDiskBytes: 10})
	require.Error(t, err)
	var notEnough *ErrNotEnoughDisk
	assert.ErrorAs(t, err, &notEnough)
}

func TestPlanSkipsEntriesAlreadyInJournal(t *testing.T) {
	dir := t.TempDir()
	diff := &diffengine.Diff{
		New: diffengine.WrapGen2([]manifest.DepotFile{{
			Path: "done.bin",
			MD5:  "finalmd5",
			Chunks: []manifest.Chunk{
				{CompressedMD5: "c1", MD5: "u1", Size: 10, CompressedSize: 5},
			},
		}}),
	}

	j, err := journal.Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append("finalmd5", false, "done.bin"))
	require.NoError(t, j.Close())

	plan, err := Plan(diff, Options{InstallRoot: dir, Cache: newTestCache(t)})
	require.NoError(t, err)
	assert.Empty(t, plan.Tasks)
}

func TestPlanLinksEmitCreateSymlinkTask(t *testing.T) {
	diff := &diffengine.Diff{
		Links: []manifest.DepotLink{{Path: "shortcut", Target: "real/target"}},
	}

	plan, err := Plan(diff, Options{InstallRoot: t.TempDir(), Cache: newTestCache(t)})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.True(t, plan.Tasks[0].File.Flags.Has(task.FlagCreateSymlink))
	assert.Equal(t, "real/target", plan.Tasks[0].File.OldPath)
}
