package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/VetheonGames/galaxydl/internal/config"
)

// profilePath returns the fixed location of the optional user-level YAML
// profile (spec.md §9 Open Questions: no config file format specified;
// grounded on vjache-cie's .cie/project.yaml).
func profilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".galaxydl.yaml")
}

// parsedFlags is what every install-shaped subcommand (download/update/
// repair/info/redist) needs after flag parsing.
type parsedFlags struct {
	productID   string
	cfg         config.Config
	metricsAddr string
}

// parseInstallFlags builds the shared flag set documented in galaxydl's
// usage text (spec.md §6 "CLI subcommands (surface, not implementation)")
// and binds it straight into a config.Config.
func parseInstallFlags(name string, args []string) (*parsedFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg := config.Default()
	profile, profileErr := config.LoadProfile(profilePath())
	if profileErr == nil {
		profile.Apply(&cfg)
	} else {
		profile = &config.Profile{}
	}
	var dlcsCSV string
	var forceGen int

	fs.StringVar(&cfg.InstallPath, "path", "", "install root")
	fs.StringVar(&cfg.SupportPath, "support", "", "support-files root")
	fs.StringVar(&cfg.ConfigPath, "config", "", "config root for persisted manifests")
	platform := fs.String("platform", string(cfg.Platform), "windows|osx|linux")
	fs.StringVar(&cfg.Language, "lang", cfg.Language, "language tag")
	fs.StringVar(&cfg.BuildID, "build", "", "pin a specific build id")
	fs.StringVar(&cfg.Branch, "branch", "", "beta branch name")
	fs.StringVar(&cfg.BranchPass, "password", "", "beta branch password")
	fs.BoolVar(&cfg.WithDLCs, "with-dlcs", false, "include every owned DLC")
	fs.BoolVar(&cfg.SkipDLCs, "skip-dlcs", false, "install base product only")
	fs.StringVar(&dlcsCSV, "dlcs", "", "comma-separated DLC id list")
	fs.BoolVar(&cfg.DLCOnly, "dlc-only", false, "install only the listed DLCs")
	fs.IntVar(&cfg.WorkerCount, "max-workers", cfg.WorkerCount, "downloader worker count (default: NumCPU)")
	fs.IntVar(&forceGen, "force-gen", 0, "force content-system generation 1 or 2")
	metricsAddr := profile.MetricsAddr
	fs.StringVar(&metricsAddr, "metrics-addr", metricsAddr, "expose Prometheus metrics on this address (off by default)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() < 1 {
		return nil, fmt.Errorf("%s: missing product id", name)
	}

	cfg.Platform = config.Platform(*platform)
	if dlcsCSV != "" {
		cfg.DLCIDs = strings.Split(dlcsCSV, ",")
	}
	if cfg.SkipDLCs {
		cfg.DLCIDs = nil
		cfg.WithDLCs = false
	}
	switch forceGen {
	case 1:
		cfg.ForceGen = config.Generation1
	case 2:
		cfg.ForceGen = config.Generation2
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = runtime.NumCPU()
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("galaxydl: init logger: %w", err)
	}
	cfg.Logger = logger

	pf := &parsedFlags{productID: fs.Arg(0), cfg: cfg, metricsAddr: metricsAddr}
	pf.cfg.ProductID = pf.productID
	return pf, nil
}
