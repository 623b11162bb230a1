// Package planner implements the Task Planner: it transforms a diff and the
// current cache state into a sequential task stream (spec.md §4.3).
package planner

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/VetheonGames/galaxydl/internal/cache"
	"github.com/VetheonGames/galaxydl/internal/diffengine"
	"github.com/VetheonGames/galaxydl/internal/journal"
	"github.com/VetheonGames/galaxydl/internal/manifest"
	"github.com/VetheonGames/galaxydl/internal/task"
)

const (
	minGen1PieceSize = 8 << 20  // 8 MiB
	defaultGen1Piece = 20 << 20 // 20 MiB, used when no Gen-2 chunk informs the size
	defaultArenaBytes = 1 << 30 // 1 GiB (spec.md §4.3 step 8)
)

// Options configures a single planning pass.
type Options struct {
	InstallRoot      string
	SupportRoot      string
	Cache            *cache.Cache
	ArenaBytes       int // 0 = defaultArenaBytes
	FreeDiskBytes    int64
	Logger           *zap.SugaredLogger
}

// Plan is the ordered task stream plus the resource decisions the
// orchestrator needs (spec.md §4.3 steps 7-8).
type Plan struct {
	Tasks         []task.Task
	ScratchDelta  int64
	SegmentSize   int
	ArenaBytes    int
	NumSegments   int
	// Refcounts tracks remaining chunk consumers across the plan so the
	// orchestrator can emit cache-eviction deletes once a shared chunk's
	// last consumer has read it (spec.md §4.3 step 2, §4.8).
	Refcounts *cache.Refcounts
}

// ErrNotEnoughDisk is returned when the projected scratch peak exceeds free
// space at the install root (spec.md §4.3 step 7, §7 kind 4, exit code 2).
type ErrNotEnoughDisk struct {
	Required int64
	Free     int64
}

func (e *ErrNotEnoughDisk) Error() string {
	return fmt.Sprintf("planner: not enough disk space: need %d bytes, have %d free", e.Required, e.Free)
}

// Plan runs the full §4.3 algorithm.
func Plan(diff *diffengine.Diff, opts Options) (*Plan, error) {
	replayed, err := journal.Replay(opts.InstallRoot)
	if err != nil {
		return nil, err
	}
	done := indexJournal(replayed)

	newEntries := filterDone(diff.New, done)
	changedEntries := filterChangedDone(diff.Changed, done)

	multiplicity := countChunkMultiplicity(newEntries, changedEntries, diff.Redist)
	refcounts := cache.NewRefcounts(multiplicity)

	maxChunkSize := maxUncompressedChunkSize(newEntries, changedEntries, diff.Redist)
	pieceSize := minGen1PieceSize
	if maxChunkSize > pieceSize {
		pieceSize = maxChunkSize
	}
	if maxChunkSize == 0 {
		pieceSize = defaultGen1Piece
	}

	var tasks []task.Task
	gen1Seen := make(map[string]string) // file MD5 -> first file path seen (for COPY_FILE dedupe).

	for _, e := range newEntries {
		tasks = append(tasks, emitFileTasks(e, nil, refcounts, opts, pieceSize, gen1Seen)...)
	}
	for _, ce := range changedEntries {
		tasks = append(tasks, emitChangedFileTasks(ce, refcounts, opts, pieceSize, gen1Seen)...)
	}
	for _, f := range diff.Redist {
		tasks = append(tasks, emitFileTasks(diffengine.Entry{Gen2: &f}, nil, refcounts, opts, pieceSize, gen1Seen)...)
	}

	for _, e := range diff.Deleted {
		tasks = append(tasks, deleteTask(e))
	}
	for _, e := range diff.RemovedRedist {
		tasks = append(tasks, deleteTask(e))
	}

	for _, link := range diff.Links {
		tasks = append(tasks, task.Task{
			Kind: task.KindFile,
			File: &task.FileTask{
				Flags:   task.FlagCreateSymlink,
				Path:    link.Path,
				OldPath: link.Target,
			},
		})
	}

	scratchDelta := computeScratchDelta(tasks)
	if opts.FreeDiskBytes > 0 && scratchDelta > opts.FreeDiskBytes {
		return nil, &ErrNotEnoughDisk{Required: scratchDelta, Free: opts.FreeDiskBytes}
	}

	arenaBytes := opts.ArenaBytes
	if arenaBytes <= 0 {
		arenaBytes = defaultArenaBytes
	}
	segmentSize := maxChunkSize
	if segmentSize <= 0 {
		segmentSize = pieceSize
	}
	numSegments := arenaBytes / segmentSize
	if numSegments < 1 {
		numSegments = 1
	}

	return &Plan{
		Tasks:        tasks,
		ScratchDelta: scratchDelta,
		SegmentSize:  segmentSize,
		ArenaBytes:   arenaBytes,
		NumSegments:  numSegments,
		Refcounts:    refcounts,
	}, nil
}

// indexJournal builds a checksum-by-path lookup from replayed entries
// (spec.md §4.3 step 1).
func indexJournal(entries []journal.Entry) map[string]journal.Entry {
	m := make(map[string]journal.Entry, len(entries))
	for _, e := range entries {
		m[strings.ToLower(e.Path)] = e
	}
	return m
}

func targetChecksum(e diffengine.Entry) string {
	if e.Gen2 != nil {
		if e.Gen2.MD5 != "" {
			return e.Gen2.MD5
		}
		if len(e.Gen2.Chunks) > 0 {
			return e.Gen2.Chunks[0].MD5
		}
		return ""
	}
	if e.Gen1 != nil {
		return e.Gen1.MD5
	}
	return ""
}

// filterDone drops entries the journal already confirms complete
// (spec.md §4.3 step 1).
func filterDone(entries []diffengine.Entry, done map[string]journal.Entry) []diffengine.Entry {
	var out []diffengine.Entry
	for _, e := range entries {
		if je, ok := done[strings.ToLower(e.Path())]; ok && je.Checksum == targetChecksum(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func filterChangedDone(entries []diffengine.ChangedEntry, done map[string]journal.Entry) []diffengine.ChangedEntry {
	var out []diffengine.ChangedEntry
	for _, ce := range entries {
		if je, ok := done[strings.ToLower(ce.Path())]; ok && je.Checksum == targetChecksum(ce.Entry) {
			continue
		}
		out = append(out, ce)
	}
	return out
}

// countChunkMultiplicity counts, for each compressed-MD5, how many
// chunk-tasks will reference it across every file to be produced
// (spec.md §4.3 step 2).
func countChunkMultiplicity(newEntries []diffengine.Entry, changedEntries []diffengine.ChangedEntry, redist []manifest.DepotFile) map[string]int {
	counts := make(map[string]int)
	count := func(f *manifest.DepotFile) {
		if f == nil {
			return
		}
		for _, c := range f.Chunks {
			counts[c.CompressedMD5]++
		}
	}
	for _, e := range newEntries {
		count(e.Gen2)
	}
	for _, ce := range changedEntries {
		if ce.FileDiff != nil {
			count(ce.FileDiff)
		} else if ce.Patch == nil {
			count(ce.Gen2)
		}
	}
	for i := range redist {
		count(&redist[i])
	}
	return counts
}

func maxUncompressedChunkSize(newEntries []diffengine.Entry, changedEntries []diffengine.ChangedEntry, redist []manifest.DepotFile) int {
	max := 0
	consider := func(f *manifest.DepotFile) {
		if f == nil {
			return
		}
		for _, c := range f.Chunks {
			if int(c.Size) > max {
				max = int(c.Size)
			}
		}
	}
	for _, e := range newEntries {
		consider(e.Gen2)
	}
	for _, ce := range changedEntries {
		if ce.FileDiff != nil {
			consider(ce.FileDiff)
		} else {
			consider(ce.Gen2)
		}
	}
	for i := range redist {
		consider(&redist[i])
	}
	return max
}

// emitFileTasks emits OPEN -> chunk tasks -> CLOSE -> MAKE_EXEC for a
// brand-new file (spec.md §4.3 step 4).
func emitFileTasks(e diffengine.Entry, _ *diffengine.ChangedEntry, refcounts *cache.Refcounts, opts Options, pieceSize int, gen1Seen map[string]string) []task.Task {
	if e.Gen2 != nil {
		return emitGen2File(e.Gen2, "", refcounts, opts)
	}
	if e.Gen1 != nil {
		return emitGen1File(e.Gen1, pieceSize, gen1Seen)
	}
	return nil
}

func emitChangedFileTasks(ce diffengine.ChangedEntry, refcounts *cache.Refcounts, opts Options, pieceSize int, gen1Seen map[string]string) []task.Task {
	support := ce.Gen2 != nil && ce.Gen2.HasFlag("support") || ce.Gen1 != nil && ce.Gen1.HasFlag("support")
	var flags task.FileFlag = task.FlagSupport
	if !support {
		flags = 0
	}

	if ce.Patch != nil {
		return []task.Task{{
			Kind: task.KindFile,
			File: &task.FileTask{
				Flags:         task.FlagPatch | flags,
				Path:          ce.Path(),
				OldPath:       ce.OldPath,
				TargetMD5:     ce.Patch.TargetMD5,
				PatchMD5:      ce.Patch.PatchMD5,
				PatchBlobPath: "", // left empty: the orchestrator stages the fetched blob in a temp file and hands it to the writer as Op.PatchPath.
			},
		}}
	}

	if ce.FileDiff != nil {
		return emitGen2File(ce.FileDiff, ce.OldPath, refcounts, opts)
	}

	if ce.Gen2 != nil {
		return emitGen2File(ce.Gen2, ce.OldPath, refcounts, opts)
	}
	if ce.Gen1 != nil {
		return emitGen1File(ce.Gen1, pieceSize, gen1Seen)
	}
	return nil
}

// emitGen2File builds the OPEN/chunk/CLOSE/MAKE_EXEC sequence for one
// Gen-2 DepotFile, optionally carrying reuse offsets from oldPath
// (spec.md §4.3 step 4, §4.2 FileDiff).
func emitGen2File(f *manifest.DepotFile, oldPath string, refcounts *cache.Refcounts, opts Options) []task.Task {
	var flags task.FileFlag
	if f.HasFlag("support") {
		flags |= task.FlagSupport
	}
	executable := f.HasFlag("executable")

	if len(f.Chunks) == 0 {
		return []task.Task{{
			Kind: task.KindFile,
			File: &task.FileTask{Flags: task.FlagCreate | flags, Path: f.Path, ProductID: f.ProductID},
		}}
	}

	var tasks []task.Task
	tasks = append(tasks, task.Task{
		Kind: task.KindFile,
		File: &task.FileTask{Flags: task.FlagOpen | flags, Path: f.Path, ProductID: f.ProductID, NumChunks: len(f.Chunks)},
	})

	for _, c := range f.Chunks {
		ct := task.ChunkTask{
			ProductID: f.ProductID,
			Path:      f.Path,
			Chunk: task.Chunk{
				CompressedMD5:    c.CompressedMD5,
				UncompressedMD5:  c.MD5,
				CompressedSize:   c.CompressedSize,
				UncompressedSize: c.Size,
			},
		}
		switch {
		case c.OldOffset != nil:
			ct.FromOldFile = true
			ct.OldFilePath = oldPath
			ct.OldFileOffset = *c.OldOffset
		case refcounts.IsShared(c.CompressedMD5) && opts.Cache != nil && opts.Cache.Has(c.MD5):
			ct.FromCache = true
			ct.Flags |= task.ChunkCleanup
		default:
			ct.FromNetwork = true
			if refcounts.IsShared(c.CompressedMD5) {
				ct.Flags |= task.ChunkOffloadToCache
			}
		}
		tasks = append(tasks, task.Task{Kind: task.KindChunk, Chunk: &ct})
	}

	tasks = append(tasks, task.Task{
		Kind: task.KindFile,
		File: &task.FileTask{Flags: task.FlagClose | flags, Path: f.Path, TargetMD5: f.MD5, TargetSHA256: f.SHA256},
	})
	if executable {
		tasks = append(tasks, task.Task{
			Kind: task.KindFile,
			File: &task.FileTask{Flags: task.FlagMakeExec | flags, Path: f.Path},
		})
	}
	return tasks
}

// emitGen1File synthesises fixed-size pieces for a Gen-1 file
// (spec.md §4.3 step 3).
func emitGen1File(f *manifest.V1File, pieceSize int, seen map[string]string) []task.Task {
	if copyFrom, ok := seen[f.MD5]; ok && f.MD5 != "" {
		return []task.Task{{
			Kind: task.KindFile,
			File: &task.FileTask{Flags: task.FlagCopy, Path: f.Path, OldPath: copyFrom},
		}}
	}
	if f.MD5 != "" {
		seen[f.MD5] = f.Path
	}

	var flags task.FileFlag
	if f.HasFlag("support") {
		flags |= task.FlagSupport
	}

	if f.Size == 0 {
		return []task.Task{{Kind: task.KindFile, File: &task.FileTask{Flags: task.FlagCreate | flags, Path: f.Path}}}
	}

	var tasks []task.Task
	numPieces := int((f.Size + int64(pieceSize) - 1) / int64(pieceSize))
	tasks = append(tasks, task.Task{
		Kind: task.KindFile,
		File: &task.FileTask{Flags: task.FlagOpen | flags, Path: f.Path, ProductID: f.ProductID, NumChunks: numPieces},
	})
	for i := 0; i < numPieces; i++ {
		offset := f.Offset + int64(i)*int64(pieceSize)
		size := int64(pieceSize)
		if remaining := f.Size - int64(i)*int64(pieceSize); remaining < size {
			size = remaining
		}
		tasks = append(tasks, task.Task{
			Kind: task.KindV1,
			V1:   &task.V1Task{ProductID: f.ProductID, Path: f.Path, ChunkIndex: i, Offset: offset, Size: size, FileMD5: f.MD5},
		})
	}
	tasks = append(tasks, task.Task{
		Kind: task.KindFile,
		File: &task.FileTask{Flags: task.FlagClose | flags, Path: f.Path, TargetMD5: f.MD5},
	})
	if f.HasFlag("executable") {
		tasks = append(tasks, task.Task{Kind: task.KindFile, File: &task.FileTask{Flags: task.FlagMakeExec | flags, Path: f.Path}})
	}
	return tasks
}

func deleteTask(e diffengine.Entry) task.Task {
	var flags task.FileFlag = task.FlagDelete
	if e.Gen2 != nil && e.Gen2.HasFlag("support") {
		flags |= task.FlagSupport
	}
	return task.Task{Kind: task.KindFile, File: &task.FileTask{Flags: flags, Path: e.Path()}}
}

// computeScratchDelta estimates the scratch-space peak (spec.md §4.3 step 7)
// as a running sum over the task stream of the uncompressed bytes of every
// network-sourced chunk (counted twice when it is also offloaded to the
// cache) and every Gen-1 piece. Deleted files and cache evictions do not
// reduce the sum, so the result is the total of those bytes.
func computeScratchDelta(tasks []task.Task) int64 {
	var running, peak int64
	for _, t := range tasks {
		switch t.Kind {
		case task.KindChunk:
			if t.Chunk.FromNetwork {
				running += t.Chunk.Chunk.UncompressedSize
				if t.Chunk.Flags.Has(task.ChunkOffloadToCache) {
					running += t.Chunk.Chunk.UncompressedSize
				}
			}
		case task.KindV1:
			running += t.V1.Size
		case task.KindFile:
			if t.File.Flags.Has(task.FlagDelete) {
				running -= 0 // size of deleted file is not tracked pre-delete; conservative (does not reduce peak).
			}
			if t.File.Flags.Has(task.FlagClose) {
				if running > peak {
					peak = running
				}
			}
		}
	}
	if running > peak {
		peak = running
	}
	return peak
}
