package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"github.com/VetheonGames/galaxydl/internal/arena"
	"github.com/VetheonGames/galaxydl/internal/cache"
	"github.com/VetheonGames/galaxydl/internal/config"
	"github.com/VetheonGames/galaxydl/internal/dependency"
	"github.com/VetheonGames/galaxydl/internal/diffengine"
	"github.com/VetheonGames/galaxydl/internal/downloader"
	"github.com/VetheonGames/galaxydl/internal/journal"
	"github.com/VetheonGames/galaxydl/internal/manifest"
	"github.com/VetheonGames/galaxydl/internal/orchestrator"
	"github.com/VetheonGames/galaxydl/internal/planner"
	"github.com/VetheonGames/galaxydl/internal/progress"
	"github.com/VetheonGames/galaxydl/internal/writer"
)

// runRedist installs one or more shared redistributables directly, without
// a owning product's manifest (spec.md §4.9, §6 "redist"). It reuses the
// same plan/arena/writer/orchestrator pipeline as runInstall, seeded from a
// synthetic diff whose Redist entries are the resolved redistributable files.
func runRedist(args []string) error {
	fs := flag.NewFlagSet("redist", flag.ContinueOnError)
	path := fs.String("path", "", "install root")
	support := fs.String("support", "", "support-files root")
	cfgPath := fs.String("config", "", "config root for persisted manifests")
	maxWorkers := fs.Int("max-workers", 0, "downloader worker count (default: NumCPU)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("redist: missing dependency id list")
	}
	if *path == "" {
		return fmt.Errorf("redist: --path is required")
	}
	ids := strings.Split(fs.Arg(0), ",")

	cfg := config.Default()
	cfg.InstallPath = *path
	cfg.SupportPath = *support
	cfg.ConfigPath = *cfgPath
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(cfg.InstallPath, ".galaxydl")
	}
	cfg.WorkerCount = *maxWorkers
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = numCPU()
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg.Logger = logger
	defer logger.Sync()
	sugar := logger.Sugar()

	client := apiclient.New(http.DefaultClient, cfg.HTTPTimeout)
	resolver := dependency.New(client, sugar)
	res, err := resolver.Resolve(ids)
	if err != nil {
		return fmt.Errorf("redist: resolve: %w", err)
	}

	var redistFiles []manifest.DepotFile
	redistFiles = append(redistFiles, res.GameDirFiles...)
	redistFiles = append(redistFiles, res.SharedRedistFiles...)
	if len(redistFiles) == 0 {
		sugar.Infow("no matching redistributables", "ids", ids)
		return nil
	}

	diff := &diffengine.Diff{Redist: redistFiles}

	c, err := cache.New(cfg.InstallPath)
	if err != nil {
		return fmt.Errorf("redist: open cache: %w", err)
	}
	free, err := planner.FreeDiskBytes(cfg.InstallPath)
	if err != nil {
		sugar.Warnw("could not determine free disk space", "error", err)
	}
	plan, err := planner.Plan(diff, planner.Options{
		InstallRoot:   cfg.InstallPath,
		SupportRoot:   cfg.SupportPath,
		Cache:         c,
		ArenaBytes:    int(cfg.SharedArenaBytes),
		FreeDiskBytes: free,
		Logger:        sugar,
	})
	if err != nil {
		return fmt.Errorf("redist: plan: %w", err)
	}
	if len(plan.Tasks) == 0 {
		sugar.Infow("nothing to do")
		return nil
	}

	endpoint, err := client.GetDependencySecureLink()
	if err != nil {
		return fmt.Errorf("redist: secure link: %w", err)
	}

	ar, err := arena.New(plan.ArenaBytes, plan.SegmentSize)
	if err != nil {
		return fmt.Errorf("redist: open arena: %w", err)
	}
	pool := downloader.New(client, sugar, cfg.WorkerCount, cfg.MaxRetries, cfg.RetryBackoff)
	wtr := writer.New(cfg.InstallPath, cfg.SupportPath, c, sugar)
	jrnl, err := journal.Open(cfg.InstallPath)
	if err != nil {
		return fmt.Errorf("redist: open journal: %w", err)
	}

	var diskSize int64
	for _, f := range redistFiles {
		for _, ch := range f.Chunks {
			diskSize += ch.Size
		}
	}
	reporter := progress.NewBar(diskSize, "redist "+strings.Join(ids, ","))

	orch := orchestrator.New(cfg, client, "redist", 2, endpoint, plan, ar, pool, wtr, jrnl, c, reporter, sugar)
	runErr := orch.Run()
	reporter.Done()
	if runErr != nil {
		return runErr
	}
	if err := c.RemoveAll(); err != nil {
		sugar.Warnw("failed to remove chunk cache", "error", err)
	}
	return journal.Remove(cfg.InstallPath)
}
