// Package dependency implements the Dependency Resolver: it intersects a
// product's dependency-id set with the shared redistributable repository
// manifest (spec.md §4.9).
package dependency

import (
	"go.uber.org/zap"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"github.com/VetheonGames/galaxydl/internal/manifest"
)

// Resolver fetches and selects redistributable depots for a product.
type Resolver struct {
	client *apiclient.Client
	logger *zap.SugaredLogger
}

// New constructs a Resolver.
func New(client *apiclient.Client, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// Resolution is the outcome of resolving one product's dependency list.
type Resolution struct {
	// GameDirFiles install into the game's own tree (executable path does
	// not begin with __redist).
	GameDirFiles []manifest.DepotFile
	// SharedRedistFiles install into the shared __redist tree.
	SharedRedistFiles []manifest.DepotFile
}

// Resolve fetches the global dependency repository, selects the depots
// whose id is in wantedIDs, and fetches each selected depot's file list
// (spec.md §4.9, §6 "GET <content-system>/dependencies/repository").
func (r *Resolver) Resolve(wantedIDs []string) (*Resolution, error) {
	if len(wantedIDs) == 0 {
		return &Resolution{}, nil
	}

	link, err := r.client.GetDependencyRepositoryLink()
	if err != nil {
		return nil, err
	}
	body, err := r.client.GetJSON(link.RepositoryManifest)
	if err != nil {
		return nil, err
	}
	repo, err := manifest.ParseDependencyRepository(body)
	if err != nil {
		return nil, err
	}

	gameDirDepots, sharedDepots := repo.Select(wantedIDs)

	res := &Resolution{}
	for _, d := range gameDirDepots {
		files, err := manifest.FetchDepotFiles(r.client, d)
		if err != nil {
			if r.logger != nil {
				r.logger.Warnw("failed to fetch dependency depot", "id", d.DependencyID, "err", err)
			}
			continue
		}
		res.GameDirFiles = append(res.GameDirFiles, files...)
	}
	for _, d := range sharedDepots {
		files, err := manifest.FetchDepotFiles(r.client, d)
		if err != nil {
			if r.logger != nil {
				r.logger.Warnw("failed to fetch dependency depot", "id", d.DependencyID, "err", err)
			}
			continue
		}
		res.SharedRedistFiles = append(res.SharedRedistFiles, files...)
	}
	return res, nil
}
