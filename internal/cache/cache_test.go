package cache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStoreHasDelete(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "cache_*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	c, err := New(tempDir)
	require.NoError(t, err)
	assert.False(t, c.Has("abc"))

	require.NoError(t, c.Store("abc", []byte("chunk bytes")))
	assert.True(t, c.Has("abc"))

	data, err := os.ReadFile(c.Path("abc"))
	require.NoError(t, err)
	assert.Equal(t, "chunk bytes", string(data))

	require.NoError(t, c.Delete("abc"))
	assert.False(t, c.Has("abc"))
}

func TestCacheDeleteMissingIsNotError(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "cache_*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	c, err := New(tempDir)
	require.NoError(t, err)
	assert.NoError(t, c.Delete("never-stored"))
}

func TestCacheRemoveAll(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "cache_*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	c, err := New(tempDir)
	require.NoError(t, err)
	require.NoError(t, c.Store("abc", []byte("x")))
	require.NoError(t, c.RemoveAll())
	_, err = os.Stat(c.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestRefcountsDecrementToZero(t *testing.T) {
	r := NewRefcounts(map[string]int{"shared": 3, "unique": 1})

	assert.True(t, r.IsShared("shared"))
	assert.False(t, r.IsShared("unique"))

	assert.False(t, r.Decrement("shared"))
	assert.False(t, r.Decrement("shared"))
	assert.True(t, r.Decrement("shared"))

	assert.True(t, r.Decrement("unique"))
}
