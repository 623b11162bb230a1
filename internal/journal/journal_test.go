package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append("abc123", false, "bin/game.exe"))
	require.NoError(t, j.Append("def456", true, "support/setup.dll"))
	require.NoError(t, j.Close())

	entries, err := Replay(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Checksum: "abc123", Support: false, Path: "bin/game.exe"}, entries[0])
	assert.Equal(t, Entry{Checksum: "def456", Support: true, Path: "support/setup.dll"}, entries[1])
}

func TestReplayMissingJournalIsEmpty(t *testing.T) {
	entries, err := Replay(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveMissingJournalIsNotError(t *testing.T) {
	assert.NoError(t, Remove(t.TempDir()))
}

func TestRemoveDeletesJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append("x", false, "a"))
	require.NoError(t, j.Close())

	require.NoError(t, Remove(dir))

	entries, err := Replay(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
