package manifest

import (
	"fmt"
	"strings"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
)

// DependencyDepot is one redistributable entry in the global dependency
// repository (spec.md §3 Dependency repository).
type DependencyDepot struct {
	DependencyID   string
	ExecutablePath string
	ManifestMD5    string
}

// IsSharedRedist reports whether this dependency installs into the shared
// `__redist` tree rather than the game's own install directory
// (spec.md §4.9).
func (d DependencyDepot) IsSharedRedist() bool {
	return strings.HasPrefix(d.ExecutablePath, "__redist")
}

type dependencyRepoEnvelope struct {
	Depots []struct {
		DependencyID   string `json:"dependencyId"`
		ExecutablePath string `json:"executable"`
		Manifest       string `json:"manifest"`
	} `json:"depots"`
}

// DependencyRepository is the parsed global redistributable repository.
type DependencyRepository struct {
	Depots []DependencyDepot
}

// ParseDependencyRepository parses the zlib-decoded repository manifest
// (spec.md §3 Dependency repository).
func ParseDependencyRepository(raw []byte) (*DependencyRepository, error) {
	var env dependencyRepoEnvelope
	if err := DecodeZlibJSON(raw, &env); err != nil {
		return nil, fmt.Errorf("parse dependency repository: %w", err)
	}
	repo := &DependencyRepository{}
	for _, d := range env.Depots {
		repo.Depots = append(repo.Depots, DependencyDepot{
			DependencyID:   d.DependencyID,
			ExecutablePath: d.ExecutablePath,
			ManifestMD5:    d.Manifest,
		})
	}
	return repo, nil
}

// Select returns the repository depots whose id is in wantedIDs, split into
// (gameDir, sharedRedist) sets by their executable path
// (spec.md §4.9 Dependency Resolver).
func (r *DependencyRepository) Select(wantedIDs []string) (gameDir, sharedRedist []DependencyDepot) {
	wanted := make(map[string]bool, len(wantedIDs))
	for _, id := range wantedIDs {
		wanted[id] = true
	}
	for _, d := range r.Depots {
		if !wanted[d.DependencyID] {
			continue
		}
		if d.IsSharedRedist() {
			sharedRedist = append(sharedRedist, d)
		} else {
			gameDir = append(gameDir, d)
		}
	}
	return
}

// FetchDepotFiles fetches a dependency depot's Gen-2 depot manifest and
// returns its DepotFiles, tagged as redistributables
// (spec.md §6 "GET <cdn>/content-system/v2/dependencies/meta/...").
func FetchDepotFiles(client *apiclient.Client, dep DependencyDepot) ([]DepotFile, error) {
	body, err := client.GetDependencyDepotManifest(GalaxyPath(dep.ManifestMD5))
	if err != nil {
		return nil, fmt.Errorf("fetch dependency depot %s: %w", dep.DependencyID, err)
	}
	var parsed struct {
		Depot struct {
			Items []depotItemEnvelope `json:"items"`
		} `json:"depot"`
	}
	if err := DecodeZlibJSON(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse dependency depot %s: %w", dep.DependencyID, err)
	}
	var files []DepotFile
	for _, item := range parsed.Depot.Items {
		if item.Type != "DepotFile" {
			continue
		}
		files = append(files, DepotFile{
			Path:      normalizePath(item.Path),
			Flags:     item.Flags,
			MD5:       item.MD5,
			SHA256:    item.SHA256,
			Chunks:    item.Chunks,
			ProductID: dep.DependencyID,
		})
	}
	return files, nil
}
