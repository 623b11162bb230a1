package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfileMissingFileIsNotError(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &Profile{}, p)
}

func TestLoadProfileAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	content := "platform: windows\nlanguage: fr-FR\nworker_count: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)

	cfg := Default()
	p.Apply(&cfg)

	assert.Equal(t, PlatformWindows, cfg.Platform)
	assert.Equal(t, "fr-FR", cfg.Language)
	assert.Equal(t, 8, cfg.WorkerCount)
}

func TestProfileApplyNilIsNoop(t *testing.T) {
	cfg := Default()
	var p *Profile
	p.Apply(&cfg)
	assert.Equal(t, Default(), cfg)
}
