package diffengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VetheonGames/galaxydl/internal/manifest"
)

func TestCompareFreshInstallAllNew(t *testing.T) {
	entries := WrapGen2([]manifest.DepotFile{{Path: "a.txt", MD5: "m1"}})
	diff := Compare(entries, nil, false, nil)
	assert.Len(t, diff.New, 1)
	assert.Empty(t, diff.Deleted)
	assert.Empty(t, diff.Changed)
}

func TestCompareDetectsDeletedAndNew(t *testing.T) {
	oldEntries := WrapGen2([]manifest.DepotFile{{Path: "old.txt", MD5: "m1"}})
	newEntries := WrapGen2([]manifest.DepotFile{{Path: "new.txt", MD5: "m2"}})

	diff := Compare(newEntries, oldEntries, false, nil)
	require.Len(t, diff.Deleted, 1)
	assert.Equal(t, "old.txt", diff.Deleted[0].Path())
	require.Len(t, diff.New, 1)
	assert.Equal(t, "new.txt", diff.New[0].Path())
}

func TestCompareSameGenerationSingleChunkChanged(t *testing.T) {
	oldEntries := WrapGen2([]manifest.DepotFile{{
		Path: "f.bin", Chunks: []manifest.Chunk{{MD5: "aaa", Size: 10}},
	}})
	newEntries := WrapGen2([]manifest.DepotFile{{
		Path: "f.bin", Chunks: []manifest.Chunk{{MD5: "bbb", Size: 10}},
	}})

	diff := Compare(newEntries, oldEntries, false, nil)
	require.Len(t, diff.Changed, 1)
	assert.Equal(t, "f.bin", diff.Changed[0].Path())
	assert.Nil(t, diff.Changed[0].Patch)
}

func TestCompareSameGenerationUnchangedFile(t *testing.T) {
	file := manifest.DepotFile{Path: "f.bin", Chunks: []manifest.Chunk{{MD5: "aaa", Size: 10}}}
	entries := WrapGen2([]manifest.DepotFile{file})

	diff := Compare(entries, entries, false, nil)
	assert.Empty(t, diff.Changed)
	assert.Empty(t, diff.New)
	assert.Empty(t, diff.Deleted)
}

func TestCompareGen1ToGen2Upgrade(t *testing.T) {
	oldEntries := WrapGen1([]manifest.V1File{{Path: "f.bin", MD5: "aaa"}})
	newEntries := WrapGen2([]manifest.DepotFile{{
		Path: "f.bin", Chunks: []manifest.Chunk{{MD5: "aaa", Size: 5}},
	}})

	diff := Compare(newEntries, oldEntries, true, nil)
	assert.Empty(t, diff.Changed)
}

func TestCompareGen1ToGen2UpgradeDetectsChange(t *testing.T) {
	oldEntries := WrapGen1([]manifest.V1File{{Path: "f.bin", MD5: "aaa"}})
	newEntries := WrapGen2([]manifest.DepotFile{{
		Path: "f.bin", Chunks: []manifest.Chunk{{MD5: "bbb", Size: 5}},
	}})

	diff := Compare(newEntries, oldEntries, true, nil)
	require.Len(t, diff.Changed, 1)
}

func TestCompareBindsPatchManifestEntry(t *testing.T) {
	oldFile := manifest.DepotFile{Path: "f.bin", MD5: "source-md5", Chunks: []manifest.Chunk{{MD5: "aaa", Size: 10}, {MD5: "bbb", Size: 10}}}
	newFile := manifest.DepotFile{Path: "f.bin", MD5: "target-md5", Chunks: []manifest.Chunk{{MD5: "ccc", Size: 10}, {MD5: "ddd", Size: 10}}}

	oldEntries := WrapGen2([]manifest.DepotFile{oldFile})
	newEntries := WrapGen2([]manifest.DepotFile{newFile})

	patches := PatchIndex{"f.bin": {Path: "f.bin", SourceMD5: "source-md5"}}

	diff := Compare(newEntries, oldEntries, false, patches)
	require.Len(t, diff.Changed, 1)
	require.NotNil(t, diff.Changed[0].Patch)
}

func TestCompareMultiChunkRecordsReuseOffsets(t *testing.T) {
	oldFile := manifest.DepotFile{
		Path: "f.bin", MD5: "old-md5",
		Chunks: []manifest.Chunk{{MD5: "shared", Size: 4}, {MD5: "gone", Size: 6}},
	}
	newFile := manifest.DepotFile{
		Path: "f.bin", MD5: "new-md5",
		Chunks: []manifest.Chunk{{MD5: "fresh", Size: 5}, {MD5: "shared", Size: 4}},
	}

	oldEntries := WrapGen2([]manifest.DepotFile{oldFile})
	newEntries := WrapGen2([]manifest.DepotFile{newFile})

	diff := Compare(newEntries, oldEntries, false, nil)
	require.Len(t, diff.Changed, 1)
	fd := diff.Changed[0].FileDiff
	require.NotNil(t, fd)
	assert.Nil(t, fd.Chunks[0].OldOffset)
	require.NotNil(t, fd.Chunks[1].OldOffset)
	assert.Equal(t, int64(0), *fd.Chunks[1].OldOffset)
}
