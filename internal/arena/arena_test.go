package arena

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveSegmentSize(t *testing.T) {
	_, err := New(1024, 0)
	assert.Error(t, err)
}

func TestNewAllocatesAtLeastOneSegment(t *testing.T) {
	a, err := New(10, 1024)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Capacity())
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	a, err := New(4096, 1024)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Capacity())
	assert.Equal(t, 4, a.FreeCount())

	seg, ok := a.Acquire()
	require.True(t, ok)
	assert.Equal(t, 3, a.FreeCount())

	n, err := seg.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), seg.Bytes())

	a.Release(seg)
	assert.Equal(t, 4, a.FreeCount())
}

func TestSegmentWriteOverflowFails(t *testing.T) {
	a, err := New(16, 16)
	require.NoError(t, err)
	seg, ok := a.Acquire()
	require.True(t, ok)
	_, err = seg.Write(make([]byte, 17))
	assert.Error(t, err)
}

func TestTryAcquireDoesNotBlockWhenEmpty(t *testing.T) {
	a, err := New(16, 16)
	require.NoError(t, err)
	_, ok := a.TryAcquire()
	require.True(t, ok)
	_, ok = a.TryAcquire()
	assert.False(t, ok)
}

func TestAcquireUnblocksOnClose(t *testing.T) {
	a, err := New(16, 16)
	require.NoError(t, err)
	_, ok := a.Acquire()
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, ok := a.Acquire()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	a.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Close")
	}
}
