// Package orchestrator wires the Task Planner's output to the Downloader
// Pool, Shared Arena and Writer, running the three background roles
// spec.md §4.6 describes: a download scheduler, a download-completion
// handler, and a writer-completion handler. The writer role runs on the
// calling goroutine, which is itself the single writer worker (spec.md §5
// "exactly 1 writer worker").
package orchestrator

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"github.com/VetheonGames/galaxydl/internal/arena"
	"github.com/VetheonGames/galaxydl/internal/cache"
	"github.com/VetheonGames/galaxydl/internal/config"
	"github.com/VetheonGames/galaxydl/internal/downloader"
	"github.com/VetheonGames/galaxydl/internal/journal"
	"github.com/VetheonGames/galaxydl/internal/metrics"
	"github.com/VetheonGames/galaxydl/internal/planner"
	"github.com/VetheonGames/galaxydl/internal/progress"
	"github.com/VetheonGames/galaxydl/internal/task"
	"github.com/VetheonGames/galaxydl/internal/writer"
)

// ErrCancelled is returned by Run when a SIGINT/SIGTERM interrupted the run
// before it completed (spec.md §7 kind 6: "run is resumable").
var ErrCancelled = errors.New("orchestrator: run cancelled by signal")

// writerJob is one unit of work handed to the writer role. patch jobs carry
// the originating FileTask instead of a prebuilt Op, since fetching the
// patch blob and invoking the Writer both happen on the writer goroutine.
type writerJob struct {
	op    writer.Op
	patch *task.FileTask
}

// Orchestrator drives one planned run to completion.
type Orchestrator struct {
	cfg       config.Config
	productID string
	generation int
	client    *apiclient.Client
	logger    *zap.SugaredLogger
	reporter  progress.Reporter

	arena     *arena.Arena
	pool      *downloader.Pool
	w         *writer.Writer
	jrnl      *journal.Journal
	c         *cache.Cache
	refcounts *cache.Refcounts

	endpointMu  sync.Mutex
	endpoint    apiclient.SecureLinkEndpoint
	lastRefresh time.Time

	tasks []task.Task

	advanceMu    sync.Mutex
	head         int
	opsClosed    bool
	opsCh        chan writerJob

	pendingCh   chan int
	pendingOnce sync.Once
	remaining   int64 // count of not-yet-consumed network chunk/v1 tasks
	sem         chan struct{}

	readyMu sync.Mutex
	ready   map[string]*arena.Segment

	attemptMu sync.Mutex
	attempts  map[string]int

	running   atomic.Bool
	cancelled atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}
	doneOnce  sync.Once

	fatalMu sync.Mutex
	fatal   error

	downloadedBytes atomic.Int64
	writtenBytes    atomic.Int64

	metrics *metrics.Collectors
	totalDisk       int64

	sigCh chan os.Signal
}

// New constructs an Orchestrator ready to run the given plan.
func New(cfg config.Config, client *apiclient.Client, productID string, generation int, endpoint apiclient.SecureLinkEndpoint, plan *planner.Plan, ar *arena.Arena, pool *downloader.Pool, w *writer.Writer, jrnl *journal.Journal, c *cache.Cache, reporter progress.Reporter, logger *zap.SugaredLogger) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if reporter == nil {
		reporter = progress.Nop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		productID:  productID,
		generation: generation,
		client:     client,
		logger:     logger,
		reporter:   reporter,
		arena:      ar,
		pool:       pool,
		w:          w,
		jrnl:       jrnl,
		c:          c,
		refcounts:  plan.Refcounts,
		endpoint:   endpoint,
		tasks:      plan.Tasks,
		opsCh:      make(chan writerJob, 256),
		ready:      make(map[string]*arena.Segment),
		attempts:   make(map[string]int),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		sem:        make(chan struct{}, 2*cfg.WorkerCount),
	}
	for _, t := range plan.Tasks {
		if t.Kind == task.KindV1 {
			o.totalDisk += t.V1.Size
		}
	}
	return o
}

// Run executes the plan end to end: starts the scheduler and
// download-completion goroutines, then runs the writer role on the calling
// goroutine until every task has been consumed, the run is cancelled, or a
// fatal error occurs.
func (o *Orchestrator) Run() error {
	o.buildPendingQueue()
	o.running.Store(true)
	o.installSignalHandler()
	defer o.finish()

	go o.runScheduler()
	go o.runDownloadResults()

	o.advance() // drain whatever needs no network fetch (pure file ops, reused chunks)
	o.runWriter()

	if err := o.fatalErr(); err != nil {
		return err
	}
	if o.cancelled.Load() {
		return ErrCancelled
	}
	return nil
}

func (o *Orchestrator) finish() {
	o.doneOnce.Do(func() { close(o.doneCh) })
	if o.sigCh != nil {
		signalStop(o.sigCh)
	}
}

// buildPendingQueue seeds the download queue with every chunk/V1 task whose
// bytes must come from the network, in task-stream order (spec.md §4.6 step
// 1 "pop the next download task from the pending chunks deque").
func (o *Orchestrator) buildPendingQueue() {
	var indices []int
	for i, t := range o.tasks {
		switch t.Kind {
		case task.KindChunk:
			if t.Chunk.FromNetwork {
				indices = append(indices, i)
			}
		case task.KindV1:
			indices = append(indices, i)
		}
	}
	o.remaining = int64(len(indices))
	o.pendingCh = make(chan int, len(indices)+1)
	for _, idx := range indices {
		o.pendingCh <- idx
	}
	if len(indices) == 0 {
		o.pendingOnce.Do(func() { close(o.pendingCh) })
	}
}

// --- download scheduler (spec.md §4.6 step 1) ---

func (o *Orchestrator) runScheduler() {
	for {
		select {
		case idx, ok := <-o.pendingCh:
			if !ok {
				return
			}
			if !o.running.Load() {
				o.decRemaining()
				continue
			}
			select {
			case o.sem <- struct{}{}:
			case <-o.stopCh:
				return
			}
			seg, ok := o.arena.Acquire()
			if !ok {
				<-o.sem
				return
			}
			job := o.buildJob(o.tasks[idx], idx, seg)
			select {
			case o.pool.Jobs <- job:
			case <-o.stopCh:
				o.arena.Release(seg)
				<-o.sem
				return
			}
		case <-o.stopCh:
			return
		}
	}
}

func (o *Orchestrator) buildJob(t task.Task, idx int, seg *arena.Segment) downloader.Job {
	ep := o.getEndpoint()
	switch t.Kind {
	case task.KindChunk:
		ct := t.Chunk
		url := downloader.BuildURL(ep, ct.Chunk.CompressedMD5, nil)
		return downloader.Job{ChunkTask: ct, Segment: seg, URL: url, TaskIndex: idx}
	case task.KindV1:
		v1 := t.V1
		url := downloader.BuildURL(ep, "", v1)
		return downloader.Job{V1Task: v1, Segment: seg, URL: url, Headers: downloader.RangeHeaders(v1.Offset, v1.Size), TaskIndex: idx}
	default:
		return downloader.Job{}
	}
}

// --- download-completion handler (spec.md §4.6 step 2) ---

func (o *Orchestrator) runDownloadResults() {
	for {
		select {
		case res, ok := <-o.pool.Results:
			if !ok {
				return
			}
			o.handleDownloadResult(res)
		case <-o.stopCh:
			return
		}
	}
}

// SetMetrics attaches a Prometheus collector set; optional, nil-safe, wired
// only when the CLI's --metrics-addr flag is set.
func (o *Orchestrator) SetMetrics(m *metrics.Collectors) {
	o.metrics = m
}

func (o *Orchestrator) handleDownloadResult(res downloader.Result) {
	<-o.sem
	if !o.running.Load() {
		if res.Segment != nil {
			o.arena.Release(res.Segment)
		}
		return
	}

	switch res.Fail {
	case downloader.FailNone:
		o.downloadedBytes.Add(res.BytesDownloaded)
		if o.metrics != nil {
			o.metrics.BytesDownloaded.Add(float64(res.BytesDownloaded))
			o.metrics.ChunksFetched.Inc()
			o.metrics.ArenaFreeSegs.Set(float64(o.arena.FreeCount()))
		}
		o.putReady(resultKey(res.Job), res.Segment)
		o.decRemaining()
		o.advance()

	case downloader.FailUnauthorized:
		if res.Segment != nil {
			o.arena.Release(res.Segment)
		}
		o.refreshEndpoint()
		o.requeue(res.Job)

	case downloader.FailChecksum:
		if res.Segment != nil {
			o.arena.Release(res.Segment)
		}
		key := resultKey(res.Job)
		if o.tooManyAttempts(key) {
			if o.metrics != nil {
				o.metrics.TasksFailed.Inc()
			}
			o.fail(fmt.Errorf("orchestrator: repeated integrity failure for %s: %w", key, res.Err))
			return
		}
		o.requeue(res.Job)

	default: // transient network failure
		if res.Segment != nil {
			o.arena.Release(res.Segment)
		}
		o.requeue(res.Job)
	}
}

func (o *Orchestrator) requeue(job downloader.Job) {
	select {
	case o.pendingCh <- job.TaskIndex:
	case <-o.stopCh:
	}
}

func (o *Orchestrator) tooManyAttempts(key string) bool {
	o.attemptMu.Lock()
	defer o.attemptMu.Unlock()
	o.attempts[key]++
	return o.attempts[key] >= 2
}

func resultKey(job downloader.Job) string {
	if job.ChunkTask != nil {
		return chunkKey(job.ChunkTask.Chunk.CompressedMD5)
	}
	return v1Key(job.V1Task.Path, job.V1Task.ChunkIndex)
}

func chunkKey(compressedMD5 string) string { return "c:" + compressedMD5 }
func v1Key(path string, idx int) string    { return fmt.Sprintf("v:%s#%d", path, idx) }

func (o *Orchestrator) putReady(key string, seg *arena.Segment) {
	o.readyMu.Lock()
	o.ready[key] = seg
	o.readyMu.Unlock()
}

func (o *Orchestrator) takeReady(key string) (*arena.Segment, bool) {
	o.readyMu.Lock()
	defer o.readyMu.Unlock()
	seg, ok := o.ready[key]
	if ok {
		delete(o.ready, key)
	}
	return seg, ok
}

func (o *Orchestrator) decRemaining() {
	if atomic.AddInt64(&o.remaining, -1) <= 0 {
		o.pendingOnce.Do(func() { close(o.pendingCh) })
	}
}

// --- task-stream advancement (spec.md §4.6 step 2, §5 ordering guarantees) ---

// advance pops every task off the head of the stream that is ready to hand
// the writer — a FileTask, a reuse-sourced ChunkTask, or a network-sourced
// chunk/piece whose bytes have already arrived — and stops at the first
// ChunkTask/V1Task still awaiting its download.
func (o *Orchestrator) advance() {
	o.advanceMu.Lock()
	defer o.advanceMu.Unlock()

	for o.head < len(o.tasks) {
		t := o.tasks[o.head]
		switch t.Kind {
		case task.KindFile:
			o.pushFileTask(t)
			o.head++

		case task.KindChunk:
			ct := t.Chunk
			if ct.FromOldFile || ct.FromCache {
				o.pushReuseChunk(ct)
				o.head++
				continue
			}
			seg, ok := o.takeReady(chunkKey(ct.Chunk.CompressedMD5))
			if !ok {
				o.closeOpsIfDone()
				return
			}
			o.countChunkConsumed(ct)
			o.opsCh <- writerJob{op: writer.Op{
				Kind:           writer.OpAppendSegment,
				Segment:        seg,
				TargetMD5:      ct.Chunk.UncompressedMD5,
				OffloadToCache: ct.Flags.Has(task.ChunkOffloadToCache),
			}}
			o.head++

		case task.KindV1:
			v1 := t.V1
			seg, ok := o.takeReady(v1Key(v1.Path, v1.ChunkIndex))
			if !ok {
				o.closeOpsIfDone()
				return
			}
			o.opsCh <- writerJob{op: writer.Op{Kind: writer.OpAppendSegment, Segment: seg}}
			o.head++

		default:
			o.head++
		}
	}
	o.closeOpsIfDone()
}

func (o *Orchestrator) closeOpsIfDone() {
	if o.head >= len(o.tasks) && !o.opsClosed {
		o.opsClosed = true
		close(o.opsCh)
	}
}

func (o *Orchestrator) pushFileTask(t task.Task) {
	ft := t.File
	if ft.Flags.Has(task.FlagPatch) {
		o.opsCh <- writerJob{patch: ft}
		return
	}
	for _, op := range writer.FromFileFlags(ft) {
		o.opsCh <- writerJob{op: op}
	}
}

func (o *Orchestrator) pushReuseChunk(ct *task.ChunkTask) {
	op := writer.Op{
		Deflate:   ct.Deflate,
		Size:      ct.Chunk.UncompressedSize,
		TargetMD5: ct.Chunk.UncompressedMD5,
	}
	if ct.FromOldFile {
		op.Kind = writer.OpAppendOldFileRange
		op.OldPath = ct.OldFilePath
		op.OldOffset = ct.OldFileOffset
	} else {
		op.Kind = writer.OpAppendCache
	}
	o.opsCh <- writerJob{op: op}

	if ct.FromCache && o.refcounts != nil && o.refcounts.Decrement(ct.Chunk.CompressedMD5) {
		if err := o.c.Delete(ct.Chunk.UncompressedMD5); err != nil && o.logger != nil {
			o.logger.Warnw("cache eviction failed", "md5", ct.Chunk.UncompressedMD5, "err", err)
		}
	}
}

func (o *Orchestrator) countChunkConsumed(ct *task.ChunkTask) {
	if o.refcounts != nil {
		o.refcounts.Decrement(ct.Chunk.CompressedMD5)
	}
}

// --- writer role (spec.md §4.6 step 3, §4.5) ---

func (o *Orchestrator) runWriter() {
	for {
		select {
		case job, ok := <-o.opsCh:
			if !ok {
				return
			}
			o.handleWriterJob(job)
			if o.fatalErr() != nil {
				return
			}
		case <-o.stopCh:
			return
		}
	}
}

func (o *Orchestrator) handleWriterJob(job writerJob) {
	if job.patch != nil {
		o.handlePatch(job.patch)
		return
	}

	var appended int64
	if job.op.Kind == writer.OpAppendSegment {
		appended = int64(job.op.Segment.Len)
	}

	res := o.w.Execute(job.op)
	if res.Release != nil {
		o.arena.Release(res.Release)
	}
	if res.Err != nil {
		o.fail(fmt.Errorf("orchestrator: writer op %d failed: %w", job.op.Kind, res.Err))
		return
	}

	switch job.op.Kind {
	case writer.OpAppendSegment:
		o.writtenBytes.Add(appended)
	case writer.OpAppendOldFileRange, writer.OpAppendCache:
		o.writtenBytes.Add(job.op.Size)
		if o.metrics != nil {
			o.metrics.ChunksReused.Inc()
		}
	}
	if o.metrics != nil {
		o.metrics.BytesWritten.Set(float64(o.writtenBytes.Load()))
	}
	o.reportProgress()

	if job.op.Kind == writer.OpClose && res.Closed {
		if err := o.jrnl.Append(res.ClosedChecksum, job.op.Support, job.op.Path); err != nil {
			o.fail(fmt.Errorf("orchestrator: journal append: %w", err))
		}
	}
}

// handlePatch fetches the xdelta3 delta blob for a PATCH task and hands it
// to the writer, all on the writer goroutine (spec.md §5: "Writer: file
// I/O, patch run" is the only suspension point for this task kind).
func (o *Orchestrator) handlePatch(ft *task.FileTask) {
	ep := o.getEndpoint()
	url := downloader.BuildURL(ep, ft.PatchMD5, nil)
	body, status, err := o.client.Get(url, nil)
	if err != nil {
		o.fail(fmt.Errorf("orchestrator: fetch patch blob for %s: %w", ft.Path, err))
		return
	}
	if status >= 300 {
		o.fail(fmt.Errorf("orchestrator: fetch patch blob for %s: unexpected status %d", ft.Path, status))
		return
	}
	sum := md5.Sum(body)
	if hex.EncodeToString(sum[:]) != ft.PatchMD5 {
		o.fail(fmt.Errorf("orchestrator: patch blob checksum mismatch for %s", ft.Path))
		return
	}

	tmp, err := os.CreateTemp("", "galaxydl-patch-*.xdelta")
	if err != nil {
		o.fail(fmt.Errorf("orchestrator: stage patch blob: %w", err))
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		o.fail(fmt.Errorf("orchestrator: stage patch blob: %w", err))
		return
	}
	tmp.Close()

	support := ft.Flags.Has(task.FlagSupport)
	res := o.w.Execute(writer.Op{Kind: writer.OpPatch, Path: ft.Path, OldPath: ft.OldPath, Support: support, PatchPath: tmp.Name()})
	if res.Err != nil {
		o.fail(fmt.Errorf("orchestrator: apply patch for %s: %w", ft.Path, res.Err))
		return
	}
	o.reportProgress()
	if res.Closed {
		if err := o.jrnl.Append(res.ClosedChecksum, support, ft.Path); err != nil {
			o.fail(fmt.Errorf("orchestrator: journal append: %w", err))
		}
	}
}

func (o *Orchestrator) reportProgress() {
	o.reporter.Report(progress.Event{
		DownloadedBytes: o.downloadedBytes.Load(),
		WrittenBytes:    o.writtenBytes.Load(),
		TotalDisk:       o.totalDisk,
		Phase:           "writing",
	})
}

// --- secure-link refresh (spec.md §7 kind 2: rate-limited to 1/10s) ---

func (o *Orchestrator) getEndpoint() apiclient.SecureLinkEndpoint {
	o.endpointMu.Lock()
	defer o.endpointMu.Unlock()
	return o.endpoint
}

func (o *Orchestrator) refreshEndpoint() {
	o.endpointMu.Lock()
	defer o.endpointMu.Unlock()
	if time.Since(o.lastRefresh) < o.cfg.SecureLinkWindow {
		return
	}
	ep, err := o.client.GetSecureLink(o.productID, "/", o.generation)
	if err != nil {
		if o.logger != nil {
			o.logger.Warnw("secure link refresh failed", "err", err)
		}
		return
	}
	o.endpoint = ep
	o.lastRefresh = time.Now()
}

// --- fatal-error / cancellation plumbing ---

func (o *Orchestrator) fail(err error) {
	o.fatalMu.Lock()
	if o.fatal == nil {
		o.fatal = err
	}
	o.fatalMu.Unlock()
	o.running.Store(false)
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) fatalErr() error {
	o.fatalMu.Lock()
	defer o.fatalMu.Unlock()
	return o.fatal
}
