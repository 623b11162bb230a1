package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDependencyRepositoryRawJSON(t *testing.T) {
	raw := []byte(`{"depots":[
		{"dependencyId":"vcredist2019","executable":"__redist/vcredist/setup.exe","manifest":"abc"},
		{"dependencyId":"directx","executable":"DirectX/DXSETUP.exe","manifest":"def"}
	]}`)

	repo, err := ParseDependencyRepository(raw)
	require.NoError(t, err)
	require.Len(t, repo.Depots, 2)
	assert.Equal(t, "vcredist2019", repo.Depots[0].DependencyID)
	assert.True(t, repo.Depots[0].IsSharedRedist())
	assert.False(t, repo.Depots[1].IsSharedRedist())
}

func TestDependencyRepositorySelectSplitsByExecutablePath(t *testing.T) {
	repo := &DependencyRepository{Depots: []DependencyDepot{
		{DependencyID: "a", ExecutablePath: "__redist/a/setup.exe"},
		{DependencyID: "b", ExecutablePath: "b/setup.exe"},
		{DependencyID: "c", ExecutablePath: "__redist/c/setup.exe"},
	}}

	gameDir, shared := repo.Select([]string{"a", "b"})
	require.Len(t, gameDir, 1)
	assert.Equal(t, "b", gameDir[0].DependencyID)
	require.Len(t, shared, 1)
	assert.Equal(t, "a", shared[0].DependencyID)
}

func TestDependencyRepositorySelectIgnoresUnwantedIDs(t *testing.T) {
	repo := &DependencyRepository{Depots: []DependencyDepot{
		{DependencyID: "a", ExecutablePath: "a/setup.exe"},
	}}

	gameDir, shared := repo.Select([]string{"nonexistent"})
	assert.Empty(t, gameDir)
	assert.Empty(t, shared)
}
