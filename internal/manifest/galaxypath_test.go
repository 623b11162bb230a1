package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGalaxyPathSplitsFirstTwoHexPairs(t *testing.T) {
	assert.Equal(t, "ab/cd/abcdef0123456789", GalaxyPath("abcdef0123456789"))
}

func TestGalaxyPathPassesThroughExistingPath(t *testing.T) {
	assert.Equal(t, "ab/cd/abcdef", GalaxyPath("ab/cd/abcdef"))
}

func TestGalaxyPathShortInputPassesThrough(t *testing.T) {
	assert.Equal(t, "ab", GalaxyPath("ab"))
}
