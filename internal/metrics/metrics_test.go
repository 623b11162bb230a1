package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsIncrementAndGather(t *testing.T) {
	c, reg := New()

	c.BytesDownloaded.Add(1024)
	c.ChunksFetched.Inc()
	c.ArenaFreeSegs.Set(3)

	mfs, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)

	assert.Equal(t, float64(1024), testutil.ToFloat64(c.BytesDownloaded))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.ChunksFetched))
}
