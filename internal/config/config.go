// Package config holds the explicit context threaded through every
// component constructor, replacing the module-level mutable state of the
// Python original (spec.md §9 "Global state → explicit context").
package config

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Platform is one of the three targets the content system supports.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformOSX     Platform = "osx"
	PlatformLinux   Platform = "linux"
)

// Generation pins a forced content-system generation override.
type Generation int

const (
	GenerationAuto Generation = 0
	Generation1    Generation = 1
	Generation2    Generation = 2
)

// Config is constructed once at CLI startup and passed down to every
// component (spec.md §6 "Inputs at construction time").
type Config struct {
	ProductID    string
	Platform     Platform
	Language     string
	BuildID      string
	Branch       string
	BranchPass   string
	DLCIDs       []string
	WithDLCs     bool
	SkipDLCs     bool
	DLCOnly      bool
	ForceGen     Generation

	InstallPath string // <path>, the parent the install directory is created under
	SupportPath string // <support>
	ConfigPath  string // <config>, holds manifests/ and (legacy) auth state

	WorkerCount int

	// SharedArenaBytes bounds the Shared Arena (default 1 GiB, spec.md §4.3 step 8).
	SharedArenaBytes int64

	HTTPTimeout      time.Duration
	SecureLinkWindow time.Duration // rate-limit window for secure-link refresh (10s)
	WorkerJoinGrace  time.Duration // 5s
	MaxRetries       int           // 5
	RetryBackoff     time.Duration // 2s

	Logger *zap.Logger
}

// Default returns a Config with the spec's literal timeout/retry constants
// (spec.md §4.4 step 3, §5 Timeouts) filled in.
func Default() Config {
	return Config{
		Platform:         PlatformLinux,
		Language:         "en-US",
		WorkerCount:      0, // 0 means "host CPU count", resolved by the caller
		SharedArenaBytes: 1 << 30,
		HTTPTimeout:      10 * time.Second,
		SecureLinkWindow: 10 * time.Second,
		WorkerJoinGrace:  5 * time.Second,
		MaxRetries:       5,
		RetryBackoff:     2 * time.Second,
	}
}

// InstallDir joins InstallPath with the manifest-declared install directory
// name, mirroring the Python `self.dl_path = os.path.join(self.path, install_directory)`.
func (c Config) InstallDir(installDirectory string) string {
	return filepath.Join(c.InstallPath, installDirectory)
}

// SupportDir re-roots a support file under <support>/<product-id>/<path>
// (spec.md §4.1 parsing rules).
func (c Config) SupportDir(productID string) string {
	return filepath.Join(c.SupportPath, productID)
}
