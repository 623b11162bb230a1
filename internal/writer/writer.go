// Package writer implements the Writer: the single-consumer component that
// executes all file-level mutations for a run (spec.md §4.5).
package writer

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"github.com/VetheonGames/galaxydl/internal/arena"
	"github.com/VetheonGames/galaxydl/internal/cache"
	"github.com/VetheonGames/galaxydl/internal/pathutil"
	"github.com/VetheonGames/galaxydl/internal/task"
	"github.com/VetheonGames/galaxydl/internal/vcdiff"
)

// ErrChecksumMismatch is returned by CLOSE when the bytes just written to
// disk don't hash to the file's target checksum (spec.md §8 invariant: "the
// bytes on disk hash to its target checksum"), following the same
// errors.Is-checked-sentinel style as vcdiff.ErrChecksumMismatch.
var ErrChecksumMismatch = errors.New("writer: closed file checksum mismatch")

// Op is a single writer instruction, richer than task.FileFlag because it
// also carries the data source for append operations. TargetMD5 does double
// duty: on APPEND_FROM_CACHE/APPEND_FROM_SEGMENT (OffloadToCache) ops it is
// the chunk's uncompressed MD5 used as the cache key; on a CLOSE op it is the
// whole file's target MD5, verified against the as-written hash.
type Op struct {
	Kind        OpKind
	Path        string
	OldPath     string
	Support     bool
	TargetMD5    string
	TargetSHA256 string
	Segment     *arena.Segment
	OffloadToCache bool
	OldOffset   int64
	Size        int64
	Deflate     bool
	PatchPath   string
}

// OpKind enumerates the writer operations of spec.md §4.5.
type OpKind int

const (
	OpOpen OpKind = iota
	OpAppendSegment
	OpAppendOldFileRange
	OpAppendCache
	OpClose
	OpCreate
	OpDelete
	OpRename
	OpCopy
	OpMakeExec
	OpCreateSymlink
	OpPatch
)

// Result is returned by Execute to the orchestrator's writer role
// (spec.md §4.6 step 3).
type Result struct {
	Op      Op
	Err     error
	Release *arena.Segment // non-nil when a segment must be returned to the arena.
	Closed  bool
	ClosedChecksum string
}

// Writer holds at most one open file handle at a time (spec.md §4.5,
// §5 "the writer never has two files open simultaneously").
type Writer struct {
	installRoot string
	supportRoot string
	cache       *cache.Cache
	logger      *zap.SugaredLogger

	current     *os.File
	currentPath string
	md5Hasher   interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
	sha256Hasher interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// New constructs a Writer rooted at installRoot/supportRoot.
func New(installRoot, supportRoot string, c *cache.Cache, logger *zap.SugaredLogger) *Writer {
	return &Writer{installRoot: installRoot, supportRoot: supportRoot, cache: c, logger: logger}
}

// resolvedRoot returns the root a path should be rooted under.
func (w *Writer) resolvedRoot(support bool) string {
	if support {
		return w.supportRoot
	}
	return w.installRoot
}

// resolvePath joins and case-insensitively resolves a relative path under
// the appropriate root (spec.md §4.5 "Path resolution").
func (w *Writer) resolvePath(relPath string, support bool) string {
	root := w.resolvedRoot(support)
	if runtime.GOOS == "windows" {
		return filepath.Join(root, relPath)
	}
	return pathutil.Resolve(w.logger, root, relPath)
}

// Execute runs a single writer op and returns its result.
func (w *Writer) Execute(op Op) Result {
	switch op.Kind {
	case OpOpen:
		return w.open(op)
	case OpAppendSegment:
		return w.appendSegment(op)
	case OpAppendOldFileRange:
		return w.appendOldFileRange(op)
	case OpAppendCache:
		return w.appendCache(op)
	case OpClose:
		return w.close(op)
	case OpCreate:
		return w.create(op)
	case OpDelete:
		return w.delete(op)
	case OpRename:
		return w.rename(op)
	case OpCopy:
		return w.copy(op)
	case OpMakeExec:
		return w.makeExec(op)
	case OpCreateSymlink:
		return w.createSymlink(op)
	case OpPatch:
		return w.patch(op)
	default:
		return Result{Op: op, Err: fmt.Errorf("writer: unknown op kind %d", op.Kind)}
	}
}

func (w *Writer) open(op Op) Result {
	if w.current != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: OPEN while %s is already open", w.currentPath)}
	}
	path := w.resolvePath(op.Path, op.Support)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: mkdir parents: %w", err)}
	}
	f, err := os.Create(path)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: open %s: %w", path, err)}
	}
	w.current = f
	w.currentPath = path
	w.md5Hasher = md5.New()
	w.sha256Hasher = sha256.New()
	return Result{Op: op}
}

func (w *Writer) writeTracked(b []byte) error {
	if _, err := w.current.Write(b); err != nil {
		return err
	}
	if _, err := w.md5Hasher.Write(b); err != nil {
		return err
	}
	_, err := w.sha256Hasher.Write(b)
	return err
}

func (w *Writer) appendSegment(op Op) Result {
	if w.current == nil {
		return Result{Op: op, Err: fmt.Errorf("writer: append-from-segment with no open file")}
	}
	data := op.Segment.Bytes()
	if err := w.writeTracked(data); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: write segment: %w", err)}
	}
	if op.OffloadToCache && w.cache != nil {
		if err := w.cache.Store(op.TargetMD5, data); err != nil {
			return Result{Op: op, Err: err}
		}
	}
	return Result{Op: op, Release: op.Segment}
}

func (w *Writer) appendOldFileRange(op Op) Result {
	if w.current == nil {
		return Result{Op: op, Err: fmt.Errorf("writer: append-from-old-file-range with no open file")}
	}
	src, err := os.Open(op.OldPath)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: open old file %s: %w", op.OldPath, err)}
	}
	defer src.Close()
	if _, err := src.Seek(op.OldOffset, io.SeekStart); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: seek old file: %w", err)}
	}
	return w.copyRange(op, io.LimitReader(src, op.Size))
}

func (w *Writer) appendCache(op Op) Result {
	if w.current == nil {
		return Result{Op: op, Err: fmt.Errorf("writer: append-from-cache with no open file")}
	}
	path := w.cache.Path(op.TargetMD5)
	src, err := os.Open(path)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: open cache entry %s: %w", path, err)}
	}
	defer src.Close()
	return w.copyRange(op, io.LimitReader(src, op.Size))
}

func (w *Writer) copyRange(op Op, r io.Reader) Result {
	reader := r
	if op.Deflate {
		zr, err := zlib.NewReader(r)
		if err != nil {
			return Result{Op: op, Err: fmt.Errorf("writer: zlib reader: %w", err)}
		}
		defer zr.Close()
		reader = zr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: read range: %w", err)}
	}
	if err := w.writeTracked(data); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: write range: %w", err)}
	}
	return Result{Op: op}
}

func (w *Writer) close(op Op) Result {
	if w.current == nil {
		return Result{Op: op, Err: fmt.Errorf("writer: CLOSE with no open file")}
	}
	if err := w.current.Sync(); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: sync: %w", err)}
	}
	if err := w.current.Close(); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: close: %w", err)}
	}
	sum := hex.EncodeToString(w.md5Hasher.Sum(nil))
	sha := hex.EncodeToString(w.sha256Hasher.Sum(nil))
	w.current = nil
	w.currentPath = ""
	w.md5Hasher = nil
	w.sha256Hasher = nil

	if op.TargetMD5 != "" && sum != op.TargetMD5 {
		return Result{Op: op, Err: fmt.Errorf("writer: %w: %s (got md5 %s, want %s)", ErrChecksumMismatch, op.Path, sum, op.TargetMD5)}
	}
	if op.TargetSHA256 != "" && sha != op.TargetSHA256 {
		return Result{Op: op, Err: fmt.Errorf("writer: %w: %s (got sha256 %s, want %s)", ErrChecksumMismatch, op.Path, sha, op.TargetSHA256)}
	}
	return Result{Op: op, Closed: true, ClosedChecksum: sum}
}

func (w *Writer) create(op Op) Result {
	path := w.resolvePath(op.Path, op.Support)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: mkdir parents: %w", err)}
	}
	f, err := os.Create(path)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: create %s: %w", path, err)}
	}
	f.Close()
	return Result{Op: op}
}

func (w *Writer) delete(op Op) Result {
	path := w.resolvePath(op.Path, op.Support)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return Result{Op: op, Err: fmt.Errorf("writer: delete %s: %w", path, err)}
	}
	return Result{Op: op}
}

func (w *Writer) rename(op Op) Result {
	oldPath := w.resolvePath(op.OldPath, op.Support)
	newPath := w.resolvePath(op.Path, op.Support)
	if _, err := os.Stat(newPath); err == nil {
		if err := os.Remove(newPath); err != nil {
			return Result{Op: op, Err: fmt.Errorf("writer: delete rename target %s: %w", newPath, err)}
		}
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: rename %s -> %s: %w", oldPath, newPath, err)}
	}
	return Result{Op: op}
}

func (w *Writer) copy(op Op) Result {
	oldPath := w.resolvePath(op.OldPath, op.Support)
	newPath := w.resolvePath(op.Path, op.Support)
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: mkdir parents: %w", err)}
	}
	src, err := os.Open(oldPath)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: open copy source %s: %w", oldPath, err)}
	}
	defer src.Close()
	dst, err := os.Create(newPath)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: create copy dest %s: %w", newPath, err)}
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: copy %s -> %s: %w", oldPath, newPath, err)}
	}
	return Result{Op: op}
}

func (w *Writer) makeExec(op Op) Result {
	if runtime.GOOS == "windows" {
		return Result{Op: op}
	}
	path := w.resolvePath(op.Path, op.Support)
	info, err := os.Stat(path)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: stat %s: %w", path, err)}
	}
	if err := os.Chmod(path, info.Mode()|0o111); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: chmod +x %s: %w", path, err)}
	}
	return Result{Op: op}
}

func (w *Writer) createSymlink(op Op) Result {
	path := w.resolvePath(op.Path, op.Support)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: mkdir parents: %w", err)}
	}
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return Result{Op: op, Err: fmt.Errorf("writer: remove existing symlink %s: %w", path, err)}
		}
	}
	if err := os.Symlink(op.OldPath, path); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: symlink %s -> %s: %w", path, op.OldPath, err)}
	}
	return Result{Op: op}
}

func (w *Writer) patch(op Op) Result {
	oldPath := w.resolvePath(op.OldPath, op.Support)
	newPath := w.resolvePath(op.Path, op.Support)
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: mkdir parents: %w", err)}
	}
	if err := vcdiff.Patch(oldPath, op.PatchPath, newPath); err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: apply patch: %w", err)}
	}
	sum, err := hashFile(newPath)
	if err != nil {
		return Result{Op: op, Err: fmt.Errorf("writer: hash patched file: %w", err)}
	}
	return Result{Op: op, Closed: true, ClosedChecksum: sum}
}

// hashFile MD5-sums a file already written to disk, used to produce the
// resume-journal checksum for operations that don't go through OPEN/CLOSE
// (PATCH rewrites the whole file in one step).
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FromFileFlags translates a planned task.FileTask into
// the concrete Op sequence the Writer executes (spec.md §4.3 step 4).
func FromFileFlags(t *task.FileTask) []Op {
	var ops []Op
	support := t.Flags.Has(task.FlagSupport)
	if t.Flags.Has(task.FlagOpen) {
		ops = append(ops, Op{Kind: OpOpen, Path: t.Path, Support: support})
	}
	if t.Flags.Has(task.FlagCreate) {
		ops = append(ops, Op{Kind: OpCreate, Path: t.Path, Support: support})
	}
	if t.Flags.Has(task.FlagClose) {
		ops = append(ops, Op{Kind: OpClose, Path: t.Path, Support: support, TargetMD5: t.TargetMD5, TargetSHA256: t.TargetSHA256})
	}
	if t.Flags.Has(task.FlagMakeExec) {
		ops = append(ops, Op{Kind: OpMakeExec, Path: t.Path, Support: support})
	}
	if t.Flags.Has(task.FlagRename) {
		ops = append(ops, Op{Kind: OpRename, Path: t.Path, OldPath: t.OldPath, Support: support})
	}
	if t.Flags.Has(task.FlagDelete) {
		ops = append(ops, Op{Kind: OpDelete, Path: t.Path, Support: support})
	}
	if t.Flags.Has(task.FlagCopy) {
		ops = append(ops, Op{Kind: OpCopy, Path: t.Path, OldPath: t.OldPath, Support: support})
	}
	if t.Flags.Has(task.FlagCreateSymlink) {
		ops = append(ops, Op{Kind: OpCreateSymlink, Path: t.Path, OldPath: t.OldPath, Support: support})
	}
	return ops
}
