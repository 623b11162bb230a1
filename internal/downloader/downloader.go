// Package downloader implements the Downloader Pool: N workers fetching a
// chunk (Gen-2) or a byte range of a depot blob (Gen-1) into a Shared Arena
// segment (spec.md §4.4).
package downloader

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"github.com/VetheonGames/galaxydl/internal/arena"
	"github.com/VetheonGames/galaxydl/internal/manifest"
	"github.com/VetheonGames/galaxydl/internal/task"
)

// FailKind classifies a download failure for the orchestrator's retry policy
// (spec.md §4.4 step 4, §7).
type FailKind int

const (
	FailNone FailKind = iota
	FailNetwork
	FailUnauthorized
	FailChecksum
)

// Job is one unit of work handed to a pool worker: a chunk or V1 task
// already bound to a free arena segment.
type Job struct {
	ChunkTask *task.ChunkTask
	V1Task    *task.V1Task
	Segment   *arena.Segment
	URL       string
	Headers   map[string]string
	// TaskIndex is the job's position in the orchestrator's task stream,
	// carried through Result so a failed job can be re-queued without a
	// second lookup.
	TaskIndex int
}

// Result is posted back to the orchestrator's download-result queue
// (spec.md §4.4 step 7 "DownloadTaskResult").
type Result struct {
	Job             Job
	Segment         *arena.Segment
	Fail            FailKind
	Err             error
	BytesDownloaded int64
}

// Pool is the downloader worker pool. Workers never touch disk; they own
// only their assigned segment (spec.md §4.4: "Workers never write to disk").
type Pool struct {
	client   *apiclient.Client
	logger   *zap.SugaredLogger
	maxRetry int
	backoff  time.Duration

	Jobs    chan Job
	Results chan Result
}

// New creates a downloader pool with workerCount goroutines.
func New(client *apiclient.Client, logger *zap.SugaredLogger, workerCount, maxRetry int, backoff time.Duration) *Pool {
	p := &Pool{
		client:   client,
		logger:   logger,
		maxRetry: maxRetry,
		backoff:  backoff,
		Jobs:     make(chan Job, workerCount*2),
		Results:  make(chan Result, workerCount*2),
	}
	for i := 0; i < workerCount; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	for job := range p.Jobs {
		p.Results <- p.run(job)
	}
}

// run executes one job end to end: GET with retry, verify, decompress
// (spec.md §4.4 steps 3-6).
func (p *Pool) run(job Job) Result {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetry; attempt++ {
		if attempt > 0 {
			time.Sleep(p.backoff)
		}
		body, status, err := p.client.Get(job.URL, job.Headers)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusUnauthorized {
			return Result{Job: job, Segment: job.Segment, Fail: FailUnauthorized, Err: fmt.Errorf("downloader: unauthorized fetching %s", job.URL)}
		}
		if status >= 300 {
			lastErr = fmt.Errorf("downloader: unexpected status %d fetching %s", status, job.URL)
			continue
		}

		res, err := p.ingest(job, body)
		if errors.Is(err, errChecksum) {
			return Result{Job: job, Segment: job.Segment, Fail: FailChecksum, Err: err}
		}
		if err != nil {
			lastErr = err
			continue
		}
		return res
	}
	if p.logger != nil {
		p.logger.Warnw("download failed after retries", "url", job.URL, "err", lastErr)
	}
	return Result{Job: job, Segment: job.Segment, Fail: FailNetwork, Err: lastErr}
}

// ingest decompresses (Gen-2) or copies raw bytes (Gen-1) into the segment
// and verifies the checksum (spec.md §4.4 steps 5-6).
func (p *Pool) ingest(job Job, body []byte) (Result, error) {
	seg := job.Segment

	if job.ChunkTask != nil {
		sum := md5.Sum(body)
		compressedMD5 := hex.EncodeToString(sum[:])
		if compressedMD5 != job.ChunkTask.Chunk.CompressedMD5 {
			return Result{}, fmt.Errorf("%w: compressed md5 mismatch for %s", errChecksum, job.ChunkTask.Path)
		}

		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return Result{}, fmt.Errorf("downloader: open zlib reader: %w", err)
		}
		defer zr.Close()
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return Result{}, fmt.Errorf("downloader: inflate chunk: %w", err)
		}
		if int64(len(decompressed)) != job.ChunkTask.Chunk.UncompressedSize {
			return Result{}, fmt.Errorf("%w: uncompressed size mismatch for %s", errChecksum, job.ChunkTask.Path)
		}
		if _, err := seg.Write(decompressed); err != nil {
			return Result{}, err
		}
		return Result{Job: job, Segment: seg, BytesDownloaded: int64(len(body))}, nil
	}

	// Gen-1: raw bytes, verified by byte count against the task's size.
	if _, err := seg.Write(body); err != nil {
		return Result{}, err
	}
	if int64(len(body)) != job.V1Task.Size {
		return Result{Job: job, Segment: seg, Fail: FailChecksum, Err: fmt.Errorf("%w: byte count mismatch for %s", errChecksum, job.V1Task.Path)}, nil
	}
	return Result{Job: job, Segment: seg, BytesDownloaded: int64(len(body))}, nil
}

var errChecksum = fmt.Errorf("downloader: checksum mismatch")

// BuildURL constructs the fetch URL for a job per spec.md §4.4 step 2.
func BuildURL(endpoint apiclient.SecureLinkEndpoint, depMD5 string, v1 *task.V1Task) string {
	if v1 != nil {
		base := apiclient.MergeURLWithParams(endpoint.URLFormat, endpoint.Parameters)
		return base + "/main.bin"
	}
	path := manifest.GalaxyPath(depMD5)
	return apiclient.MergeURLWithParams(endpoint.URLFormat, endpoint.Parameters) + "/" + path
}

// RangeHeaders builds the Range header for a V1Task byte-range fetch.
func RangeHeaders(offset, size int64) map[string]string {
	return map[string]string{
		"Range": fmt.Sprintf("bytes=%d-%d", offset, offset+size-1),
	}
}

// Close shuts down the pool's job channel; workers drain and exit.
func (p *Pool) Close() {
	close(p.Jobs)
}
