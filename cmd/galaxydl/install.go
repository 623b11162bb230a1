package main

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"github.com/VetheonGames/galaxydl/internal/arena"
	"github.com/VetheonGames/galaxydl/internal/cache"
	"github.com/VetheonGames/galaxydl/internal/config"
	"github.com/VetheonGames/galaxydl/internal/dependency"
	"github.com/VetheonGames/galaxydl/internal/diffengine"
	"github.com/VetheonGames/galaxydl/internal/downloader"
	"github.com/VetheonGames/galaxydl/internal/journal"
	"github.com/VetheonGames/galaxydl/internal/manifest"
	"github.com/VetheonGames/galaxydl/internal/metrics"
	"github.com/VetheonGames/galaxydl/internal/orchestrator"
	"github.com/VetheonGames/galaxydl/internal/planner"
	"github.com/VetheonGames/galaxydl/internal/progress"
	"github.com/VetheonGames/galaxydl/internal/writer"
	"github.com/VetheonGames/galaxydl/internal/ziparchive"

	"go.uber.org/zap"
)

// persistedManifest is what galaxydl actually stores under
// <config>/manifests/<product-id>: the raw product-manifest blob plus
// enough metadata to re-parse and re-diff against it on the next run,
// without having to guess a generation from the bytes (spec.md §3
// Invariants, §6 On-disk layout).
type persistedManifest struct {
	Generation int    `json:"generation"`
	BuildID    string `json:"buildId"`
	Blob       []byte `json:"blob"`
}

// runInstall backs the download/update/repair subcommands, which share one
// engine path (spec.md §6: "surface, not implementation"). Every command
// diffs against the persisted manifest when one exists; repair additionally
// re-hashes files the diff considers current (repairVerify).
func runInstall(cmd string, args []string) error {
	pf, err := parseInstallFlags(cmd, args)
	if err != nil {
		return err
	}
	cfg := pf.cfg
	defer cfg.Logger.Sync()

	if cfg.InstallPath == "" {
		return fmt.Errorf("%s: --path is required", cmd)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(cfg.InstallPath, ".galaxydl")
	}
	sugar := cfg.Logger.Sugar()

	client := apiclient.New(http.DefaultClient, cfg.HTTPTimeout)

	if cfg.Platform == config.PlatformLinux && cfg.ForceGen != config.Generation1 && cfg.ForceGen != config.Generation2 {
		handled, err := maybeRunLinuxNativeInstall(client, cfg, pf.productID, sugar)
		if handled {
			return err
		}
	}

	prev := loadPersistedManifest(cfg, pf.productID)

	generation, blob, buildID, err := fetchManifestBlob(client, cfg, pf.productID, prev)
	if err != nil {
		return fmt.Errorf("%s: fetch manifest: %w", cmd, err)
	}

	var newEntries []diffengine.Entry
	var installDir string
	var redistIDs []string
	var newManifest interface{}
	if generation == 1 {
		m, err := manifest.ParseGen1Manifest(blob, string(cfg.Platform), cfg.Language, cfg.DLCIDs, cfg.DLCOnly, "")
		if err != nil {
			return fmt.Errorf("%s: parse manifest: %w", cmd, err)
		}
		if err := m.GetFiles(client); err != nil {
			return fmt.Errorf("%s: get files: %w", cmd, err)
		}
		newEntries = diffengine.WrapGen1(m.Files)
		installDir = m.InstallDirectory
		newManifest = m
	} else {
		m, err := manifest.ParseGen2Manifest(blob, cfg.Language, cfg.DLCIDs, cfg.DLCOnly)
		if err == nil && cfg.WithDLCs {
			cfg.DLCIDs = m.DLCProductIDs
			m, err = manifest.ParseGen2Manifest(blob, cfg.Language, cfg.DLCIDs, cfg.DLCOnly)
		}
		if err != nil {
			return fmt.Errorf("%s: parse manifest: %w", cmd, err)
		}
		if err := m.GetFiles(client, sugar); err != nil {
			return fmt.Errorf("%s: get files: %w", cmd, err)
		}
		newEntries = diffengine.WrapGen2(m.Files)
		installDir = m.InstallDirectory
		redistIDs = m.DependenciesIDs
		newManifest = m
	}
	if installDir == "" {
		installDir = pf.productID
	}
	installRoot := cfg.InstallDir(installDir)
	cfg.InstallPath = installRoot

	oldEntries, isGen1ToGen2 := oldEntriesFrom(client, cfg, sugar, prev, generation)

	var patches diffengine.PatchIndex
	if prev != nil && prev.BuildID != "" && prev.BuildID != buildID {
		if pm, err := client.GetPatchManifest(pf.productID, prev.BuildID, buildID, manifest.DecodeZlibJSON); err == nil {
			patches = diffengine.NewPatchIndex(pm)
		} else {
			sugar.Infow("no patch available, falling back to full diff", "error", err)
		}
	}

	diff := diffengine.Compare(newEntries, oldEntries, isGen1ToGen2, patches)

	if cmd == "repair" && oldEntries != nil {
		repairVerify(diff, newEntries, installRoot, cfg.SupportDir(pf.productID), sugar)
	}

	if len(redistIDs) > 0 {
		resolver := dependency.New(client, sugar)
		res, err := resolver.Resolve(redistIDs)
		if err != nil {
			sugar.Warnw("dependency resolution failed, continuing without redistributables", "error", err)
		} else {
			diff.Redist = append(diff.Redist, res.GameDirFiles...)
			diff.Redist = append(diff.Redist, res.SharedRedistFiles...)
		}
	}

	c, err := cache.New(installRoot)
	if err != nil {
		return fmt.Errorf("%s: open cache: %w", cmd, err)
	}

	free, err := planner.FreeDiskBytes(cfg.InstallPath)
	if err != nil {
		sugar.Warnw("could not determine free disk space", "error", err)
	}

	plan, err := planner.Plan(diff, planner.Options{
		InstallRoot:   installRoot,
		SupportRoot:   cfg.SupportDir(pf.productID),
		Cache:         c,
		ArenaBytes:    int(cfg.SharedArenaBytes),
		FreeDiskBytes: free,
		Logger:        sugar,
	})
	if err != nil {
		return fmt.Errorf("%s: plan: %w", cmd, err)
	}

	if len(plan.Tasks) == 0 {
		sugar.Infow("nothing to do, already up to date", "product", pf.productID)
		return nil
	}

	endpoint, err := client.GetSecureLink(pf.productID, "/", generation)
	if err != nil {
		return fmt.Errorf("%s: secure link: %w", cmd, err)
	}

	ar, err := arena.New(plan.ArenaBytes, plan.SegmentSize)
	if err != nil {
		return fmt.Errorf("%s: open arena: %w", cmd, err)
	}
	pool := downloader.New(client, sugar, cfg.WorkerCount, cfg.MaxRetries, cfg.RetryBackoff)
	wtr := writer.New(installRoot, cfg.SupportDir(pf.productID), c, sugar)
	jrnl, err := journal.Open(installRoot)
	if err != nil {
		return fmt.Errorf("%s: open journal: %w", cmd, err)
	}

	_, diskSize := manifestSizes(newManifest)
	reporter := progress.NewBar(diskSize, fmt.Sprintf("%s %s", cmd, pf.productID))

	orch := orchestrator.New(cfg, client, pf.productID, generation, endpoint, plan, ar, pool, wtr, jrnl, c, reporter, sugar)
	if pf.metricsAddr != "" {
		collectors, reg := metrics.New()
		orch.SetMetrics(collectors)
		srv := metrics.Serve(pf.metricsAddr, reg)
		defer metrics.Shutdown(srv)
	}
	runErr := orch.Run()
	reporter.Done()

	if runErr != nil {
		return runErr
	}

	if err := manifest.SaveManifest(cfg.ConfigPath, pf.productID, mustMarshal(persistedManifest{
		Generation: generation,
		BuildID:    buildID,
		Blob:       blob,
	})); err != nil {
		sugar.Warnw("failed to persist manifest after successful run", "error", err)
	}
	if err := journal.Remove(installRoot); err != nil {
		sugar.Warnw("failed to remove resume journal", "error", err)
	}
	if err := c.RemoveAll(); err != nil {
		sugar.Warnw("failed to remove chunk cache", "error", err)
	}
	return nil
}

// maybeRunLinuxNativeInstall handles the Linux builds that ship no
// Gen-1/Gen-2 depot at all, only a self-extracting installer with a zip64
// central directory appended (spec.md §6). It reports handled=true once it
// has committed to this path (a matching build was found with
// generation==0); any error after that point is the run's final result and
// the caller must not fall through to the normal depot pipeline.
func maybeRunLinuxNativeInstall(client *apiclient.Client, cfg config.Config, productID string, sugar *zap.SugaredLogger) (handled bool, err error) {
	resp, err := client.GetBuilds(productID, string(config.PlatformLinux), 0, "")
	if err != nil || len(resp.Items) == 0 {
		return false, nil
	}
	build, err := pickBuild(resp.Items, cfg.BuildID, cfg.Branch)
	if err != nil || build.Generation != 0 {
		return false, nil
	}

	installDir := productID
	installRoot := cfg.InstallDir(installDir)
	if err := os.MkdirAll(installRoot, 0o755); err != nil {
		return true, fmt.Errorf("install: %w", err)
	}

	r, err := ziparchive.Open(client, build.Link)
	if err != nil {
		return true, fmt.Errorf("install: open linux installer: %w", err)
	}
	entries, err := r.ReadCentralDirectory()
	if err != nil {
		return true, fmt.Errorf("install: read linux installer: %w", err)
	}

	total := ziparchive.TotalUncompressedSize(entries)
	reporter := progress.NewBar(total, fmt.Sprintf("install %s (linux installer)", productID))
	written, err := ziparchive.Install(client, r, entries, installRoot, sugar)
	reporter.Report(progress.Event{WrittenBytes: written, TotalDisk: total, Phase: "extract"})
	reporter.Done()
	if err != nil {
		return true, fmt.Errorf("install: %w", err)
	}

	if err := manifest.SaveManifest(cfg.ConfigPath, productID, mustMarshal(persistedManifest{
		Generation: 0,
		BuildID:    build.BuildID,
	})); err != nil {
		sugar.Warnw("failed to persist manifest after successful linux installer run", "error", err)
	}
	return true, nil
}

func manifestSizes(m interface{}) (download, disk int64) {
	switch v := m.(type) {
	case *manifest.Gen1Manifest:
		return v.CalculateDownloadSize()
	case *manifest.Gen2Manifest:
		return v.CalculateDownloadSize()
	}
	return 0, 0
}

func mustMarshal(v persistedManifest) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// persistedManifest has no types that can fail to marshal.
		panic(err)
	}
	return b
}

// fetchManifestBlob resolves the build to install (pinned, branch, or
// latest) and fetches the raw product-manifest blob, respecting
// --force-gen (spec.md §6 Builds listing, §4.1). When the caller pinned
// neither --build nor --branch and a previous run exists, it re-requests
// the previously installed build's generation so update/repair stay on the
// same content system unless --force-gen says otherwise.
func fetchManifestBlob(client *apiclient.Client, cfg config.Config, productID string, prev *persistedManifest) (generation int, blob []byte, buildID string, err error) {
	wantGen := 0
	if cfg.ForceGen != config.GenerationAuto {
		wantGen = int(cfg.ForceGen)
	} else if prev != nil && cfg.BuildID == "" && cfg.Branch == "" {
		wantGen = prev.Generation
	}

	var branchPassSHA string
	if cfg.BranchPass != "" {
		branchPassSHA = sha256Hex(cfg.BranchPass)
	}
	resp, err := client.GetBuilds(productID, string(cfg.Platform), wantGen, branchPassSHA)
	if err != nil {
		return 0, nil, "", err
	}

	build, err := pickBuild(resp.Items, cfg.BuildID, cfg.Branch)
	if err != nil {
		return 0, nil, "", err
	}

	blob, err = client.GetManifestBlob(build.Link)
	if err != nil {
		return 0, nil, "", err
	}

	generation = build.Generation
	if cfg.ForceGen != config.GenerationAuto {
		generation = int(cfg.ForceGen)
	}
	return generation, blob, build.BuildID, nil
}

func pickBuild(items []apiclient.Build, wantBuildID, wantBranch string) (apiclient.Build, error) {
	for _, b := range items {
		if wantBuildID != "" && b.BuildID != wantBuildID {
			continue
		}
		if wantBranch != "" && b.Branch != wantBranch {
			continue
		}
		return b, nil
	}
	return apiclient.Build{}, fmt.Errorf("no matching build (build=%q branch=%q)", wantBuildID, wantBranch)
}

// loadPersistedManifest loads the last successful run's manifest record, if
// any. A missing record means a fresh install (spec.md §4.2 step 1).
func loadPersistedManifest(cfg config.Config, productID string) *persistedManifest {
	raw, err := manifest.LoadManifest(cfg.ConfigPath, productID)
	if err != nil {
		return nil
	}
	var pm persistedManifest
	if err := json.Unmarshal(raw, &pm); err != nil {
		return nil
	}
	return &pm
}

// oldEntriesFrom re-parses the previously persisted manifest blob (if any)
// into diff entries, and reports whether this run is a Gen-1-to-Gen-2
// content-system upgrade (spec.md §4.2 "Gen1->Gen2 upgrade detection").
func oldEntriesFrom(client *apiclient.Client, cfg config.Config, sugar *zap.SugaredLogger, prev *persistedManifest, newGeneration int) (entries []diffengine.Entry, isUpgrade bool) {
	if prev == nil {
		return nil, false
	}
	if prev.Generation == 1 {
		m, err := manifest.ParseGen1Manifest(prev.Blob, string(cfg.Platform), cfg.Language, cfg.DLCIDs, cfg.DLCOnly, "")
		if err != nil {
			sugar.Warnw("failed to re-parse previous gen1 manifest", "error", err)
			return nil, false
		}
		if err := m.GetFiles(client); err != nil {
			sugar.Warnw("failed to re-fetch previous gen1 files", "error", err)
			return nil, false
		}
		return diffengine.WrapGen1(m.Files), newGeneration == 2
	}
	m, err := manifest.ParseGen2Manifest(prev.Blob, cfg.Language, cfg.DLCIDs, cfg.DLCOnly)
	if err != nil {
		sugar.Warnw("failed to re-parse previous gen2 manifest", "error", err)
		return nil, false
	}
	if err := m.GetFiles(client, nil); err != nil {
		sugar.Warnw("failed to re-fetch previous gen2 files", "error", err)
		return nil, false
	}
	return diffengine.WrapGen2(m.Files), false
}

// repairVerify implements repair's content-integrity invariant (spec.md §8:
// "for every file whose chunk hashes match on-disk reads, no writes occur;
// for every corrupted file, only its mismatching chunks are re-fetched").
// diffengine.Compare only ever compares manifest records against each
// other, so it never notices a file that the persisted manifest still
// considers current but whose on-disk bytes rotted or were truncated; this
// walks every such "settled" entry, re-hashes it off disk, and promotes it
// into diff.Changed when the bytes disagree.
func repairVerify(diff *diffengine.Diff, newEntries []diffengine.Entry, installRoot, supportRoot string, sugar *zap.SugaredLogger) {
	settled := make(map[string]bool, len(diff.New)+len(diff.Changed))
	for _, e := range diff.New {
		settled[strings.ToLower(e.Path())] = true
	}
	for _, ce := range diff.Changed {
		settled[strings.ToLower(ce.Path())] = true
	}
	for _, e := range newEntries {
		if settled[strings.ToLower(e.Path())] {
			continue
		}
		if ce, corrupt := verifyEntryOnDisk(e, installRoot, supportRoot); corrupt {
			sugar.Infow("repair: on-disk content mismatch, re-fetching", "path", e.Path())
			diff.Changed = append(diff.Changed, ce)
		}
	}
}

// verifyEntryOnDisk re-hashes one already-installed file and reports
// whether it needs repairing. For a Gen-2 file it hashes each chunk's byte
// range independently so the caller can reuse the chunks that still match
// and only refetch the ones that don't (spec.md §4.2 FileDiff, reused here
// against on-disk reality instead of a prior manifest).
func verifyEntryOnDisk(e diffengine.Entry, installRoot, supportRoot string) (diffengine.ChangedEntry, bool) {
	support := (e.Gen2 != nil && e.Gen2.HasFlag("support")) || (e.Gen1 != nil && e.Gen1.HasFlag("support"))
	root := installRoot
	if support {
		root = supportRoot
	}
	path := filepath.Join(root, e.Path())

	if e.Gen1 != nil {
		sum, err := hashWholeFile(path)
		if err != nil || sum != e.Gen1.MD5 {
			return diffengine.ChangedEntry{Entry: e, OldPath: e.Path()}, true
		}
		return diffengine.ChangedEntry{}, false
	}

	f := e.Gen2
	if len(f.Chunks) == 0 {
		return diffengine.ChangedEntry{}, false
	}
	fh, err := os.Open(path)
	if err != nil {
		return diffengine.ChangedEntry{Entry: e, OldPath: e.Path()}, true
	}
	defer fh.Close()

	out := *f
	out.Chunks = make([]manifest.Chunk, len(f.Chunks))
	copy(out.Chunks, f.Chunks)

	var offset int64
	corrupted := false
	for i, c := range f.Chunks {
		sum, err := hashReaderRange(fh, c.Size)
		if err != nil || sum != c.MD5 {
			corrupted = true
		} else {
			o := offset
			out.Chunks[i].OldOffset = &o
		}
		offset += c.Size
	}
	if !corrupted {
		return diffengine.ChangedEntry{}, false
	}
	return diffengine.ChangedEntry{Entry: e, FileDiff: &out, OldPath: e.Path()}, true
}

// hashReaderRange MD5-sums the next n bytes of an already-open, sequentially
// read file. Reaching EOF before n bytes are read just yields a hash that
// won't match the target chunk's MD5, which is the correct "corrupted"
// verdict for a truncated file.
func hashReaderRange(r io.Reader, n int64) (string, error) {
	h := md5.New()
	if _, err := io.CopyN(h, r, n); err != nil && err != io.EOF {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashWholeFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
