// Package task defines the tagged-union task and result types exchanged
// between the Orchestrator, Downloader Pool and Writer (spec.md §3, §9).
package task

// FileFlag is a named bit flag describing what a FileTask should do.
type FileFlag uint32

const (
	FlagOpen FileFlag = 1 << iota
	FlagClose
	FlagCreate // create an empty file
	FlagRename
	FlagDelete
	FlagCopy
	FlagMakeExec
	FlagCreateSymlink
	FlagPatch
	FlagSupport // route to the support tree rather than the install root
)

func (f FileFlag) Has(bit FileFlag) bool { return f&bit != 0 }

// Kind discriminates the task union (spec.md §3 Task).
type Kind int

const (
	KindFile Kind = iota
	KindChunk
	KindV1
	KindTerminate
)

// ChunkFlag marks behavior for a ChunkTask.
type ChunkFlag uint32

const (
	ChunkCleanup        ChunkFlag = 1 << iota // delete the cache entry once consumed
	ChunkOffloadToCache                       // first consumer of a shared chunk stores it in CC
)

func (f ChunkFlag) Has(bit ChunkFlag) bool { return f&bit != 0 }

// Chunk describes one Gen-2 chunk reference (spec.md §3 Chunk).
type Chunk struct {
	CompressedMD5   string
	UncompressedMD5 string
	CompressedSize  int64
	UncompressedSize int64
}

// FileTask is a file-level operation executed by the Writer (spec.md §4.5).
type FileTask struct {
	Flags      FileFlag
	ProductID  string
	Path       string
	OldPath    string
	// NumChunks is how many chunk or piece tasks the planner emitted between
	// this OPEN and its CLOSE.
	NumChunks int
	// TargetMD5/TargetSHA256 verify the completed file at CLOSE.
	TargetMD5    string
	TargetSHA256 string
	// PatchBlobPath is left empty by the planner for FlagPatch tasks; the
	// orchestrator stages the fetched xdelta3 delta in a temp file and
	// passes that path to the writer as Op.PatchPath (spec.md §4.5 "PATCH").
	PatchBlobPath string
	// PatchMD5 is the content hash of the delta blob itself, used to
	// address it on the CDN and to verify the fetch (FlagPatch tasks only).
	PatchMD5 string
}

// ChunkTask is a Gen-2 chunk-fetch or chunk-reuse task (spec.md §3 ChunkTask).
type ChunkTask struct {
	ProductID string
	Path      string // owning file's path, used to route the written bytes
	Chunk     Chunk
	Flags     ChunkFlag

	// Exactly one data source applies:
	FromNetwork bool

	FromOldFile   bool
	OldFilePath   string
	OldFileOffset int64

	FromCache bool // read from <cache>/<uncompressed-md5>

	// Deflate indicates the reused bytes (old file or cache) must be
	// zlib-inflated before being written (Linux ZIP-sourced entries).
	Deflate bool
}

// V1Task is a Gen-1 synthesized-chunk fetch task (spec.md §3 V1Task).
type V1Task struct {
	ProductID  string
	Path       string
	ChunkIndex int
	Offset     int64
	Size       int64
	FileMD5    string
}

// Task is the discriminated union dispatched on the download/writer queues.
type Task struct {
	Kind  Kind
	File  *FileTask
	Chunk *ChunkTask
	V1    *V1Task
}

// FailReason classifies why a download/writer task failed (spec.md §7).
type FailReason int

const (
	FailNone FailReason = iota
	FailConnection
	FailChecksum
	FailUnauthorized
	FailMissingChunk
	FailUnknown
)

// Result is posted back on the download/writer result queues.
type Result struct {
	Task      Task
	Success   bool
	FailReason FailReason
	// BytesDownloaded/BytesWritten feed progress reporting.
	BytesDownloaded int64
	BytesWritten    int64
	// SegmentID identifies the Shared Arena segment holding a completed
	// chunk's bytes, valid only for successful ChunkTask/V1Task downloads.
	SegmentID int
	Err       error
}
