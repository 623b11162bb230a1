package apiclient

import (
	"encoding/json"
	"fmt"
)

// PatchManifestEntry describes one file's xdelta3 patch within a patch
// manifest (spec.md §6 patch manifest "{algorithm:'xdelta3', depots:[...]}" ).
type PatchManifestEntry struct {
	Path       string `json:"path"`
	SourceMD5  string `json:"md5Source"`
	TargetMD5  string `json:"md5Target"`
	PatchMD5   string `json:"md5Patch"`
	PatchSize  int64  `json:"patchSize"`
}

// PatchDepot groups patch entries by depot.
type PatchDepot struct {
	ProductID string                `json:"productId"`
	Items     []PatchManifestEntry  `json:"items"`
}

// PatchManifest is the decoded `{algorithm, depots}` document.
type PatchManifest struct {
	Algorithm string       `json:"algorithm"`
	Depots    []PatchDepot `json:"depots"`
}

// GetPatchManifest fetches and zlib-decodes the patch manifest between two
// builds (spec.md §6 "GET .../patches?_version=4&from_build_id=A&to_build_id=B").
func (c *Client) GetPatchManifest(productID, fromBuild, toBuild string, decode func([]byte, interface{}) error) (*PatchManifest, error) {
	url := fmt.Sprintf("%s/products/%s/patches?_version=4&from_build_id=%s&to_build_id=%s", ContentSystemBase, productID, fromBuild, toBuild)
	body, err := c.GetJSON(url)
	if err != nil {
		return nil, fmt.Errorf("get patch link: %w", err)
	}
	var link struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(body, &link); err != nil {
		return nil, fmt.Errorf("parse patch link response: %w", err)
	}
	if link.Link == "" {
		return nil, fmt.Errorf("no patch available for %s -> %s", fromBuild, toBuild)
	}
	blob, err := c.GetJSON(link.Link)
	if err != nil {
		return nil, fmt.Errorf("fetch patch manifest: %w", err)
	}
	var out PatchManifest
	if err := decode(blob, &out); err != nil {
		return nil, fmt.Errorf("decode patch manifest: %w", err)
	}
	return &out, nil
}
