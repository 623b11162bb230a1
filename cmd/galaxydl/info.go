package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"github.com/VetheonGames/galaxydl/internal/config"
	"github.com/VetheonGames/galaxydl/internal/manifest"
)

type infoOutput struct {
	ProductID     string   `json:"productId"`
	Generation    int      `json:"generation"`
	BuildID       string   `json:"buildId"`
	VersionName   string   `json:"versionName"`
	Languages     []string `json:"languages"`
	DLCIDs        []string `json:"dlcIds"`
	DownloadBytes int64    `json:"downloadBytes"`
	DiskBytes     int64    `json:"diskBytes"`
}

// runInfo prints a read-only JSON summary of a product's current build:
// sizes, DLCs and languages (spec.md §6 "info"). It performs no writes.
func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	platform := fs.String("platform", string(config.PlatformLinux), "windows|osx|linux")
	lang := fs.String("lang", "en-US", "language tag")
	buildID := fs.String("build", "", "pin a specific build id")
	branch := fs.String("branch", "", "beta branch name")
	password := fs.String("password", "", "beta branch password")
	forceGen := fs.Int("force-gen", 0, "force content-system generation 1 or 2")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("info: missing product id")
	}
	productID := fs.Arg(0)

	client := apiclient.New(http.DefaultClient, 10*time.Second)

	var branchPassSHA string
	if *password != "" {
		branchPassSHA = sha256Hex(*password)
	}
	resp, err := client.GetBuilds(productID, *platform, *forceGen, branchPassSHA)
	if err != nil {
		return fmt.Errorf("info: get builds: %w", err)
	}
	build, err := pickBuild(resp.Items, *buildID, *branch)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}

	blob, err := client.GetManifestBlob(build.Link)
	if err != nil {
		return fmt.Errorf("info: fetch manifest: %w", err)
	}

	generation := build.Generation
	if *forceGen != 0 {
		generation = *forceGen
	}

	out := infoOutput{ProductID: productID, Generation: generation, BuildID: build.BuildID, VersionName: build.VersionName}
	if generation == 1 {
		m, err := manifest.ParseGen1Manifest(blob, *platform, *lang, nil, false, build.LegacyBuildID)
		if err != nil {
			return fmt.Errorf("info: parse manifest: %w", err)
		}
		out.DownloadBytes, out.DiskBytes = m.CalculateDownloadSize()
		for _, d := range m.AllDepots {
			out.DLCIDs = append(out.DLCIDs, d.GameIDs...)
		}
	} else {
		m, err := manifest.ParseGen2Manifest(blob, *lang, nil, false)
		if err != nil {
			return fmt.Errorf("info: parse manifest: %w", err)
		}
		out.DownloadBytes, out.DiskBytes = m.CalculateDownloadSize()
		out.Languages = m.ListLanguages()
		out.DLCIDs = m.DLCProductIDs
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
