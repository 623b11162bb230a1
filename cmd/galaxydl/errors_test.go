package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/VetheonGames/galaxydl/internal/orchestrator"
	"github.com/VetheonGames/galaxydl/internal/planner"
)

func TestExitCodeForNotEnoughDisk(t *testing.T) {
	err := &planner.ErrNotEnoughDisk{Required: 100, Free: 10}
	assert.Equal(t, 2, exitCodeFor(err))
}

func TestExitCodeForCancelled(t *testing.T) {
	assert.Equal(t, -1, exitCodeFor(orchestrator.ErrCancelled))
}

func TestExitCodeForWrappedCancelled(t *testing.T) {
	wrapped := fmt.Errorf("wrapped: %w", orchestrator.ErrCancelled)
	assert.Equal(t, -1, exitCodeFor(wrapped))
}

func TestExitCodeForGenericError(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(errors.New("boom")))
}
