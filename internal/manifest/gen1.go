package manifest

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
)

// V1File is a Gen-1 file: an offset/length slice of the depot's single
// main.bin blob (spec.md §3 Gen-1 file).
type V1File struct {
	Path      string
	Offset    int64
	Size      int64
	MD5       string
	Flags     []string
	ProductID string
}

func (f V1File) HasFlag(name string) bool {
	for _, fl := range f.Flags {
		if fl == name {
			return true
		}
	}
	return false
}

// V1Directory is a plain Gen-1 mkdir request.
type V1Directory struct {
	Path string
}

type v1DepotEnvelope struct {
	Languages []string `json:"languages"`
	GameIDs   []string `json:"gameIDs"`
	Size      int64    `json:"size"`
	Manifest  string   `json:"manifest"`
}

// V1Depot is a Gen-1 depot descriptor (spec.md §3).
type V1Depot struct {
	TargetLang string
	Languages  []string
	GameIDs    []string
	Size       int64
	ManifestID string
}

// MatchesLanguage implements the Gen-1 matching rule: exact tag or "Neutral"
// (the original_source v1.Depot.check_language, stricter than Gen-2's).
func (d V1Depot) MatchesLanguage() bool {
	for _, lang := range d.Languages {
		if lang == "Neutral" || lang == d.TargetLang {
			return true
		}
	}
	return false
}

type v1FileEnvelope struct {
	Path       string `json:"path"`
	Offset     *int64 `json:"offset"`
	Hash       string `json:"hash"`
	Size       int64  `json:"size"`
	Support    bool   `json:"support"`
	Executable bool   `json:"executable"`
	Directory  string `json:"directory"`
}

// Gen1Manifest is a parsed Gen-1 product manifest (spec.md §3).
type Gen1Manifest struct {
	Platform         string
	ProductID        string
	InstallDirectory string
	Timestamp        string
	LegacyBuildID    string
	AllDepots        []V1Depot
	Depots           []V1Depot

	Files []V1File
	Dirs  []V1Directory
}

type v1Envelope struct {
	Product struct {
		RootGameID       string            `json:"rootGameID"`
		InstallDirectory string            `json:"installDirectory"`
		Depots           []v1DepotEnvelope `json:"depots"`
		Timestamp        string            `json:"timestamp"`
	} `json:"product"`
}

// ParseGen1Manifest parses a product-manifest blob into a Gen1Manifest,
// filtering depots by product/DLC/language like ParseGen2Manifest, with
// V1Depot.MatchesLanguage's own language rule (spec.md §4.1).
func ParseGen1Manifest(raw []byte, platform, language string, dlcIDs []string, dlcOnly bool, legacyBuildID string) (*Gen1Manifest, error) {
	var env v1Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Gen-1 manifests may also be zlib-wrapped.
		if err2 := DecodeZlibJSON(raw, &env); err2 != nil {
			return nil, fmt.Errorf("parse gen1 manifest: %w", err)
		}
	}

	m := &Gen1Manifest{
		Platform:         platform,
		ProductID:        env.Product.RootGameID,
		InstallDirectory: env.Product.InstallDirectory,
		Timestamp:        env.Product.Timestamp,
		LegacyBuildID:    legacyBuildID,
	}

	dlcSet := make(map[string]bool, len(dlcIDs))
	for _, id := range dlcIDs {
		dlcSet[id] = true
	}

	for _, d := range env.Product.Depots {
		depot := V1Depot{TargetLang: language, Languages: d.Languages, GameIDs: d.GameIDs, Size: d.Size, ManifestID: d.Manifest}
		include := false
		for _, gid := range depot.GameIDs {
			if dlcSet[gid] || (!dlcOnly && gid == m.ProductID) {
				include = true
				break
			}
		}
		if !include {
			continue
		}
		m.AllDepots = append(m.AllDepots, depot)
		if depot.MatchesLanguage() {
			m.Depots = append(m.Depots, depot)
		}
	}
	return m, nil
}

// GetFiles fetches each depot's manifest from the v1 CDN path and populates
// Files/Dirs (spec.md §4.1, §6 "content-system/v1/manifests/...").
func (m *Gen1Manifest) GetFiles(client *apiclient.Client) error {
	for _, depot := range m.Depots {
		if len(depot.GameIDs) == 0 {
			continue
		}
		url := fmt.Sprintf("%s/content-system/v1/manifests/%s/%s/%s/%s",
			apiclient.CDNBase, depot.GameIDs[0], m.Platform, m.Timestamp, depot.ManifestID)
		body, err := client.GetJSON(url)
		if err != nil {
			return fmt.Errorf("fetch v1 depot manifest: %w", err)
		}
		var parsed struct {
			Depot struct {
				Files []v1FileEnvelope `json:"files"`
			} `json:"depot"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("parse v1 depot manifest: %w", err)
		}
		for _, rec := range parsed.Depot.Files {
			if rec.Directory != "" {
				m.Dirs = append(m.Dirs, V1Directory{Path: strings.TrimSuffix(normalizePath(rec.Directory), string(filepath.Separator))})
				continue
			}
			var flags []string
			if rec.Support {
				flags = append(flags, "support")
			}
			if rec.Executable {
				flags = append(flags, "executable")
			}
			var offset int64
			if rec.Offset != nil {
				offset = *rec.Offset
			}
			m.Files = append(m.Files, V1File{
				Path:      strings.TrimPrefix(normalizePath(rec.Path), string(filepath.Separator)),
				Offset:    offset,
				Size:      rec.Size,
				MD5:       rec.Hash,
				Flags:     flags,
				ProductID: depot.GameIDs[0],
			})
		}
	}
	return nil
}

// CalculateDownloadSize sums the flat byte size across the language-selected
// depots only; Gen-1 has no compression so download size equals disk size
// (spec.md §4.1, original_source manager.py calculate_size: "if
// depot_version==1: download_size = disk_size"). m.AllDepots carries every
// language variant and is not what gets installed.
func (m *Gen1Manifest) CalculateDownloadSize() (downloadSize, diskSize int64) {
	for _, d := range m.Depots {
		diskSize += d.Size
	}
	return diskSize, diskSize
}
