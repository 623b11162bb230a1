// Package diffengine computes the {deleted, new, changed, redist,
// removed-redist, links} diff between a previously installed manifest and a
// target manifest (spec.md §3 Diff, §4.2 Diff Engine).
package diffengine

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"github.com/VetheonGames/galaxydl/internal/manifest"
)

// Entry wraps a file reference from either content-system generation so the
// rest of the engine can diff across a Gen-1→Gen-2 upgrade.
type Entry struct {
	Gen2 *manifest.DepotFile
	Gen1 *manifest.V1File
}

// Path returns the entry's install-relative path.
func (e Entry) Path() string {
	if e.Gen2 != nil {
		return e.Gen2.Path
	}
	return e.Gen1.Path
}

// ChangedEntry is a file present on both sides whose content differs.
type ChangedEntry struct {
	Entry
	// FileDiff is set when a multi-chunk content comparison found reusable
	// byte ranges in the old file (spec.md §4.2 step 3d).
	FileDiff *manifest.DepotFile
	// Patch is set when a patch manifest bound this file to an xdelta3 delta
	// (spec.md §4.2 step 3b).
	Patch *apiclient.PatchManifestEntry
	// OldPath names the on-disk old file to read from, for both patching and
	// chunk reuse.
	OldPath string
}

// Diff is the full result of comparing an old and new manifest (spec.md §3).
type Diff struct {
	Deleted       []Entry
	New           []Entry
	Changed       []ChangedEntry
	Redist        []manifest.DepotFile
	RemovedRedist []Entry
	Links         []manifest.DepotLink
}

// WrapGen2 wraps Gen-2 depot files as diff entries.
func WrapGen2(files []manifest.DepotFile) []Entry {
	out := make([]Entry, len(files))
	for i := range files {
		f := files[i]
		out[i] = Entry{Gen2: &f}
	}
	return out
}

// WrapGen1 wraps Gen-1 files as diff entries.
func WrapGen1(files []manifest.V1File) []Entry {
	out := make([]Entry, len(files))
	for i := range files {
		f := files[i]
		out[i] = Entry{Gen1: &f}
	}
	return out
}

func lowerPath(e Entry) string { return strings.ToLower(e.Path()) }

// firstChunkOrFileMD5 returns the Gen-2 file-level MD5 if present, else the
// first chunk's MD5 (spec.md §4.2 step 3a).
func firstChunkOrFileMD5(f *manifest.DepotFile) string {
	if f.MD5 != "" {
		return f.MD5
	}
	if len(f.Chunks) > 0 {
		return f.Chunks[0].MD5
	}
	return ""
}

// compositeMD5 is used to match a file against a patch manifest entry's
// source hash; it is the file-level MD5 when present, otherwise the MD5 of
// the concatenated chunk MD5s (a stable proxy when no whole-file MD5 was
// recorded).
func compositeMD5(f *manifest.DepotFile) string {
	if f.MD5 != "" {
		return f.MD5
	}
	h := md5.New()
	for _, c := range f.Chunks {
		h.Write([]byte(c.MD5))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PatchIndex maps a lower-cased path to its patch manifest entry.
type PatchIndex map[string]apiclient.PatchManifestEntry

// NewPatchIndex builds a PatchIndex from a parsed patch manifest.
func NewPatchIndex(pm *apiclient.PatchManifest) PatchIndex {
	idx := make(PatchIndex)
	if pm == nil {
		return idx
	}
	for _, depot := range pm.Depots {
		for _, item := range depot.Items {
			idx[strings.ToLower(item.Path)] = item
		}
	}
	return idx
}

// Compare implements spec.md §4.2's algorithm. oldEntries is nil for a fresh
// install. isGen1ToGen2Upgrade marks an old Gen-1 / new Gen-2 comparison
// (step 3a). patches may be nil.
func Compare(newEntries, oldEntries []Entry, isGen1ToGen2Upgrade bool, patches PatchIndex) *Diff {
	diff := &Diff{}

	if oldEntries == nil {
		diff.New = append(diff.New, newEntries...)
		return diff
	}

	newByPath := make(map[string]Entry, len(newEntries))
	for _, e := range newEntries {
		newByPath[lowerPath(e)] = e
	}
	oldByPath := make(map[string]Entry, len(oldEntries))
	for _, e := range oldEntries {
		oldByPath[lowerPath(e)] = e
	}

	for key, oldEntry := range oldByPath {
		if _, ok := newByPath[key]; !ok {
			diff.Deleted = append(diff.Deleted, oldEntry)
		}
	}

	for _, newEntry := range newEntries {
		key := lowerPath(newEntry)
		oldEntry, ok := oldByPath[key]
		if !ok {
			diff.New = append(diff.New, newEntry)
			continue
		}

		if isGen1ToGen2Upgrade {
			compareGen1ToGen2(diff, newEntry, oldEntry)
			continue
		}

		compareSameGeneration(diff, newEntry, oldEntry, patches)
	}

	return diff
}

// compareGen1ToGen2 implements step 3a: compare the old Gen-1 file hash to
// the Gen-2 file's first-chunk MD5 (or file-level MD5).
func compareGen1ToGen2(diff *Diff, newEntry, oldEntry Entry) {
	if newEntry.Gen2 == nil || oldEntry.Gen1 == nil {
		diff.New = append(diff.New, newEntry)
		return
	}
	if len(newEntry.Gen2.Chunks) == 0 {
		return
	}
	newSum := firstChunkOrFileMD5(newEntry.Gen2)
	if newSum == "" || oldEntry.Gen1.MD5 != newSum {
		diff.Changed = append(diff.Changed, ChangedEntry{Entry: newEntry, OldPath: oldEntry.Path()})
	}
}

// compareSameGeneration implements steps 3b-3d for two files of the same
// generation (both Gen-2, the common case; Gen-1-to-Gen-1 falls back to a
// plain MD5 compare since Gen-1 carries no chunk list).
func compareSameGeneration(diff *Diff, newEntry, oldEntry Entry, patches PatchIndex) {
	if newEntry.Gen1 != nil && oldEntry.Gen1 != nil {
		if newEntry.Gen1.MD5 != oldEntry.Gen1.MD5 {
			diff.Changed = append(diff.Changed, ChangedEntry{Entry: newEntry, OldPath: oldEntry.Path()})
		}
		return
	}
	if newEntry.Gen2 == nil || oldEntry.Gen2 == nil {
		diff.New = append(diff.New, newEntry)
		return
	}
	newFile, oldFile := newEntry.Gen2, oldEntry.Gen2

	// step 3b: patch manifest binding.
	if patches != nil {
		if entry, ok := patches[strings.ToLower(newFile.Path)]; ok {
			if compositeMD5(oldFile) == entry.SourceMD5 {
				diff.Changed = append(diff.Changed, ChangedEntry{
					Entry:   newEntry,
					Patch:   &entry,
					OldPath: oldEntry.Path(),
				})
				return
			}
		}
	}

	// step 3c: single-chunk compare.
	if len(newFile.Chunks) == 1 && len(oldFile.Chunks) == 1 {
		if newFile.Chunks[0].MD5 != oldFile.Chunks[0].MD5 {
			diff.Changed = append(diff.Changed, ChangedEntry{Entry: newEntry, OldPath: oldEntry.Path()})
		}
		return
	}

	// step 3d: multi-chunk compare + greedy chunk-reuse scan.
	differs := false
	if newFile.MD5 != "" && oldFile.MD5 != "" {
		differs = newFile.MD5 != oldFile.MD5
	} else if newFile.SHA256 != "" && oldFile.SHA256 != "" {
		differs = newFile.SHA256 != oldFile.SHA256
	}
	if !differs && len(newFile.Chunks) != len(oldFile.Chunks) {
		differs = true
	}
	if !differs {
		return
	}

	fileDiff := buildFileDiff(newFile, oldFile)
	diff.Changed = append(diff.Changed, ChangedEntry{
		Entry:    newEntry,
		FileDiff: fileDiff,
		OldPath:  oldEntry.Path(),
	})
}

// buildFileDiff implements the greedy reuse scan of spec.md §4.2 step 3d:
// for each new chunk, linearly scan the old file's chunks recording its
// cumulative offset; first MD5 match wins.
func buildFileDiff(newFile, oldFile *manifest.DepotFile) *manifest.DepotFile {
	out := *newFile
	out.Chunks = make([]manifest.Chunk, len(newFile.Chunks))
	copy(out.Chunks, newFile.Chunks)

	for i := range out.Chunks {
		newChunk := &out.Chunks[i]
		var oldOffset int64
		for _, oldChunk := range oldFile.Chunks {
			if oldChunk.MD5 == newChunk.MD5 {
				offset := oldOffset
				newChunk.OldOffset = &offset
				break
			}
			oldOffset += oldChunk.Size
		}
	}
	return &out
}
