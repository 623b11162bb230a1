package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
)

func TestPickBuildPrefersPinnedBuildID(t *testing.T) {
	items := []apiclient.Build{
		{BuildID: "1", Branch: ""},
		{BuildID: "2", Branch: "beta"},
	}
	b, err := pickBuild(items, "2", "")
	require.NoError(t, err)
	assert.Equal(t, "2", b.BuildID)
}

func TestPickBuildFiltersByBranch(t *testing.T) {
	items := []apiclient.Build{
		{BuildID: "1", Branch: ""},
		{BuildID: "2", Branch: "beta"},
	}
	b, err := pickBuild(items, "", "beta")
	require.NoError(t, err)
	assert.Equal(t, "2", b.BuildID)
}

func TestPickBuildNoMatchErrors(t *testing.T) {
	_, err := pickBuild([]apiclient.Build{{BuildID: "1"}}, "missing", "")
	assert.Error(t, err)
}

func TestMustMarshalRoundTrips(t *testing.T) {
	in := persistedManifest{Generation: 2, BuildID: "42", Blob: []byte("data")}
	b := mustMarshal(in)
	assert.Contains(t, string(b), `"buildId":"42"`)

	var out persistedManifest
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}
