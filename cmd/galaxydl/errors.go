package main

import (
	"errors"

	"github.com/VetheonGames/galaxydl/internal/orchestrator"
	"github.com/VetheonGames/galaxydl/internal/planner"
)

// exitCodeFor maps a returned error to the process exit code documented in
// usage() (spec.md §7 Error taxonomy, §6 exit codes).
func exitCodeFor(err error) int {
	var notEnoughDisk *planner.ErrNotEnoughDisk
	switch {
	case errors.As(err, &notEnoughDisk):
		return 2
	case errors.Is(err, orchestrator.ErrCancelled):
		return -1
	default:
		return 1
	}
}
