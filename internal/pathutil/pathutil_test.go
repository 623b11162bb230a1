package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExactMatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Data", "Sub"), 0o755))

	got := Resolve(nil, root, "Data/Sub")
	assert.Equal(t, filepath.Join(root, "Data", "Sub"), got)
}

func TestResolveCaseInsensitiveSibling(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "GameData"), 0o755))

	got := Resolve(nil, root, "gamedata")
	assert.Equal(t, filepath.Join(root, "GameData"), got)
}

func TestResolveMissingComponentKeepsRequestedName(t *testing.T) {
	root := t.TempDir()

	got := Resolve(nil, root, "does/not/exist")
	assert.Equal(t, filepath.Join(root, "does", "not", "exist"), got)
}

func TestFindSiblingReportsAmbiguity(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "Foo"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "FOO"), 0o755))

	match, ambiguous := findSibling(root, "foo")
	assert.NotEmpty(t, match)
	assert.True(t, ambiguous)
}

func TestFindSiblingNoMatch(t *testing.T) {
	root := t.TempDir()
	match, ambiguous := findSibling(root, "missing")
	assert.Empty(t, match)
	assert.False(t, ambiguous)
}
