package apiclient

import (
	"encoding/json"
	"fmt"
)

// Build is one entry of the builds listing (spec.md §6 Builds listing).
type Build struct {
	BuildID        string `json:"build_id"`
	Branch         string `json:"branch"`
	Generation     int    `json:"generation"`
	LegacyBuildID  string `json:"legacy_build_id"`
	VersionName    string `json:"version_name"`
	Link           string `json:"link"`
}

// BuildsResponse is the builds-listing JSON envelope.
type BuildsResponse struct {
	TotalCount int     `json:"total_count"`
	Items      []Build `json:"items"`
}

// GetBuilds fetches the builds listing for a product on a platform,
// optionally pinned to a generation and branch password
// (spec.md §6 "GET <content-system>/products/<id>/os/<platform>/builds").
func (c *Client) GetBuilds(productID, platform string, generation int, branchPasswordSHA256 string) (*BuildsResponse, error) {
	url := fmt.Sprintf("%s/products/%s/os/%s/builds?generation=%d", ContentSystemBase, productID, platform, generation)
	if branchPasswordSHA256 != "" {
		url += "&branch_password_sha256=" + branchPasswordSHA256
	}
	body, err := c.GetJSON(url)
	if err != nil {
		return nil, fmt.Errorf("get builds: %w", err)
	}
	var out BuildsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse builds response: %w", err)
	}
	return &out, nil
}

// GetManifestBlob follows a build's link to fetch the product-manifest blob
// (still zlib-encoded at this point; caller decodes).
func (c *Client) GetManifestBlob(link string) ([]byte, error) {
	return c.GetJSON(link)
}
