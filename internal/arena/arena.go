// Package arena implements the Shared Arena: a fixed-size in-memory buffer
// partitioned into equally sized segments, one segment per in-flight chunk
// (spec.md §3 Memory segment, §4.3 step 8, §5 Shared-resource policy).
package arena

import (
	"fmt"
	"sync"
)

// Segment is an (offset, length) slice of the arena, owned by exactly one
// in-flight chunk at a time.
type Segment struct {
	ID     int
	offset int
	cap    int
	buf    []byte
	// Len is the number of valid bytes currently written into the segment.
	Len int
}

// Bytes returns the valid (written) portion of the segment.
func (s *Segment) Bytes() []byte { return s.buf[:s.Len] }

// Reset clears the segment for reuse by a new owner.
func (s *Segment) Reset() { s.Len = 0 }

// Write appends p to the segment, growing Len. It fails if p would overflow
// the segment's fixed capacity — callers must size chunk tasks to fit.
func (s *Segment) Write(p []byte) (int, error) {
	if s.Len+len(p) > s.cap {
		return 0, fmt.Errorf("arena: segment %d overflow: have %d, want to add %d, cap %d", s.ID, s.Len, len(p), s.cap)
	}
	copy(s.buf[s.Len:s.Len+len(p)], p)
	s.Len += len(p)
	return len(p), nil
}

// Arena is a fixed-capacity byte buffer split into equal segments, with a
// free-segment deque guarded by a mutex/condvar (spec.md §5: "each segment
// is transiently owned by one downloader until the writer consumes it, then
// released back to a free deque").
type Arena struct {
	mu   sync.Mutex
	cond *sync.Cond

	segmentSize int
	segments    []*Segment
	free        []*Segment
	closed      bool
}

// New allocates an arena of totalBytes split into segments of segmentSize
// (spec.md §4.3 step 8: "segments = floor(SA / segment size)").
func New(totalBytes, segmentSize int) (*Arena, error) {
	if segmentSize <= 0 {
		return nil, fmt.Errorf("arena: segment size must be positive")
	}
	count := totalBytes / segmentSize
	if count < 1 {
		count = 1
	}
	a := &Arena{segmentSize: segmentSize}
	a.cond = sync.NewCond(&a.mu)
	a.segments = make([]*Segment, count)
	for i := 0; i < count; i++ {
		seg := &Segment{
			ID:     i,
			offset: i * segmentSize,
			cap:    segmentSize,
			buf:    make([]byte, segmentSize),
		}
		a.segments[i] = seg
		a.free = append(a.free, seg)
	}
	return a, nil
}

// SegmentSize returns the per-segment byte capacity.
func (a *Arena) SegmentSize() int { return a.segmentSize }

// Capacity returns the total number of segments.
func (a *Arena) Capacity() int { return len(a.segments) }

// FreeCount reports the number of segments currently unowned.
func (a *Arena) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// Acquire blocks until a segment is available and returns it, owned by the
// caller. Returns false if the arena has been closed while waiting.
func (a *Arena) Acquire() (*Segment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.free) == 0 && !a.closed {
		a.cond.Wait()
	}
	if a.closed && len(a.free) == 0 {
		return nil, false
	}
	seg := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	seg.Reset()
	return seg, true
}

// TryAcquire returns a free segment without blocking, or false if none free.
func (a *Arena) TryAcquire() (*Segment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return nil, false
	}
	seg := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	seg.Reset()
	return seg, true
}

// Release returns a segment to the free deque; the invariant (spec.md §8)
// "free-segment count + in-flight count is constant" holds because every
// Acquire is paired with exactly one Release.
func (a *Arena) Release(seg *Segment) {
	a.mu.Lock()
	seg.Reset()
	a.free = append(a.free, seg)
	a.mu.Unlock()
	a.cond.Broadcast()
}

// Close unblocks any pending Acquire calls (used during cancellation,
// spec.md §4.6 Shutdown: "unlink SA").
func (a *Arena) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.cond.Broadcast()
}
