package apiclient

import (
	"encoding/json"
	"fmt"
)

// DependencyRepositoryLink is the envelope returned by the dependencies
// endpoint, pointing at a zlib-compressed repository manifest
// (spec.md §6 "GET <content-system>/dependencies/repository?generation=2").
type DependencyRepositoryLink struct {
	RepositoryManifest string `json:"repository_manifest"`
}

// GetDependencyRepositoryLink fetches the pointer to the global
// redistributable repository manifest.
func (c *Client) GetDependencyRepositoryLink() (*DependencyRepositoryLink, error) {
	url := fmt.Sprintf("%s/dependencies/repository?generation=2", ContentSystemBase)
	body, err := c.GetJSON(url)
	if err != nil {
		return nil, fmt.Errorf("get dependency repository link: %w", err)
	}
	var out DependencyRepositoryLink
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse dependency repository link: %w", err)
	}
	return &out, nil
}

// GetDependencyDepotManifest fetches a single dependency depot's manifest by
// its MD5-derived galaxy path
// (spec.md §6 "GET <cdn>/content-system/v2/dependencies/meta/<galaxy_path>").
func (c *Client) GetDependencyDepotManifest(galaxyPath string) ([]byte, error) {
	url := fmt.Sprintf("%s/content-system/v2/dependencies/meta/%s", CDNBase, galaxyPath)
	return c.GetJSON(url)
}
