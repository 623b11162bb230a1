package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/VetheonGames/galaxydl/internal/apiclient"
	"go.uber.org/zap"
)

// Chunk is a Gen-2 chunk reference as carried on a DepotFile (spec.md §3 Chunk).
type Chunk struct {
	CompressedMD5    string `json:"compressedMd5"`
	MD5              string `json:"md5"`
	Size             int64  `json:"size"`
	CompressedSize   int64  `json:"compressedSize"`
	OldOffset        *int64 `json:"-"` // set by the Diff Engine, never serialized
}

// DepotFile is a Gen-2 depot-manifest file item (spec.md §3 DepotFile).
type DepotFile struct {
	Path      string   `json:"path"`
	Flags     []string `json:"flags"`
	MD5       string   `json:"md5"`
	SHA256    string   `json:"sha256"`
	Chunks    []Chunk  `json:"chunks"`
	ProductID string   `json:"-"`
}

// HasFlag reports whether the depot file carries the named flag
// ("executable", "support").
func (f DepotFile) HasFlag(name string) bool {
	for _, fl := range f.Flags {
		if fl == name {
			return true
		}
	}
	return false
}

// DepotDirectory is a plain mkdir request (spec.md §3 DepotDirectory).
type DepotDirectory struct {
	Path string `json:"path"`
}

// DepotLink is a Unix symbolic link item (spec.md §3 DepotLink).
type DepotLink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

type depotItemEnvelope struct {
	Type   string   `json:"type"`
	Path   string   `json:"path"`
	Flags  []string `json:"flags"`
	MD5    string   `json:"md5"`
	SHA256 string   `json:"sha256"`
	Chunks []Chunk  `json:"chunks"`
	Target string   `json:"target"`
}

// normalizePath converts the wire path separator to the host separator and
// strips a leading separator (spec.md §4.1 parsing rules).
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", string(filepath.Separator))
	p = strings.ReplaceAll(p, "/", string(filepath.Separator))
	return strings.TrimPrefix(p, string(filepath.Separator))
}

// NormalizeZipPath applies the same separator-normalization rule to a Linux
// native installer's ZIP central-directory entry name, which always uses
// forward slashes on the wire (spec.md §4.1, §6).
func NormalizeZipPath(p string) string {
	return normalizePath(p)
}

// Depot is a Gen-2 depot descriptor, scoped by product id / languages /
// optional bitness (spec.md §3 Depot).
type Depot struct {
	TargetLang     string
	Languages      []string
	Bitness        string
	ProductID      string
	CompressedSize int64
	Size           int64
	ManifestMD5    string
}

// MatchesLanguage implements the matching rule of spec.md §4.1: exact tag,
// its base before '-', '*', or "Neutral".
func (d Depot) MatchesLanguage() bool {
	base := d.TargetLang
	if idx := strings.Index(base, "-"); idx != -1 {
		base = base[:idx]
	}
	for _, lang := range d.Languages {
		if lang == "*" || lang == "Neutral" || lang == d.TargetLang || lang == base {
			return true
		}
	}
	return false
}

type depotEnvelope struct {
	Languages      []string `json:"languages"`
	Bitness        string   `json:"osBitness"`
	ProductID      string   `json:"productId"`
	CompressedSize int64    `json:"compressedSize"`
	Size           int64    `json:"size"`
	Manifest       string   `json:"manifest"`
}

// Gen2Manifest is a parsed Gen-2 product manifest (spec.md §3 Product manifest).
type Gen2Manifest struct {
	ProductID         string
	InstallDirectory  string
	DLCProductIDs     []string
	DependenciesIDs   []string
	Depots            []Depot // filtered to language/DLC-selection
	AllDepots         []Depot // product/DLC-filtered but not language-filtered, for ListLanguages
	DLCOnly           bool
	raw               map[string]interface{}

	Files []DepotFile
	Dirs  []DepotDirectory
	Links []DepotLink
}

type gen2Envelope struct {
	BaseProductID    string          `json:"baseProductId"`
	InstallDirectory string          `json:"installDirectory"`
	Depots           []depotEnvelope `json:"depots"`
	Dependencies     []string        `json:"dependencies"`
	Products         []struct {
		ProductID string `json:"productId"`
	} `json:"products"`
}

// ParseGen2Manifest parses a product-manifest blob (zlib-compressed or
// plain JSON, both handled by DecodeZlibJSON) into a Gen2Manifest, filtering depots by product/DLC/language per
// spec.md §4.1.
func ParseGen2Manifest(raw []byte, language string, dlcIDs []string, dlcOnly bool) (*Gen2Manifest, error) {
	var env gen2Envelope
	var generic map[string]interface{}
	if err := DecodeZlibJSON(raw, &env); err != nil {
		return nil, fmt.Errorf("parse gen2 manifest: %w", err)
	}
	_ = DecodeZlibJSON(raw, &generic)

	m := &Gen2Manifest{
		ProductID:        env.BaseProductID,
		InstallDirectory: env.InstallDirectory,
		DependenciesIDs:  env.Dependencies,
		DLCOnly:          dlcOnly,
		raw:              generic,
	}

	dlcSet := make(map[string]bool, len(dlcIDs))
	for _, id := range dlcIDs {
		dlcSet[id] = true
	}

	depotProductIDs := make(map[string]bool, len(env.Depots))
	for _, d := range env.Depots {
		depotProductIDs[d.ProductID] = true
	}
	for _, p := range env.Products {
		if p.ProductID == m.ProductID || !depotProductIDs[p.ProductID] {
			continue
		}
		m.DLCProductIDs = append(m.DLCProductIDs, p.ProductID)
	}

	for _, d := range env.Depots {
		depot := Depot{
			TargetLang:     language,
			Languages:      d.Languages,
			Bitness:        d.Bitness,
			ProductID:      d.ProductID,
			CompressedSize: d.CompressedSize,
			Size:           d.Size,
			ManifestMD5:    d.Manifest,
		}
		include := dlcSet[depot.ProductID] || (!dlcOnly && depot.ProductID == m.ProductID)
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

// ListLanguages enumerates every concrete language tag offered across all
// depots (spec.md §4.1 "calculation of per-(product, language) sizes").
func (m *Gen2Manifest) ListLanguages() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range m.AllDepots {
		for _, lang := range d.Languages {
			if lang == "*" || lang == "Neutral" || seen[lang] {
				continue
			}
			seen[lang] = true
			out = append(out, lang)
		}
	}
	return out
}

// CalculateDownloadSize sums compressed/uncompressed bytes across the
// language-selected depots only (spec.md §4.1 "per-(product, language)
// compressed and uncompressed sizes"); m.AllDepots carries every language
// variant and exists solely for ListLanguages' enumeration.
func (m *Gen2Manifest) CalculateDownloadSize() (downloadSize, diskSize int64) {
	for _, d := range m.Depots {
		downloadSize += d.CompressedSize
		diskSize += d.Size
	}
	return
}

// GetFiles fetches every depot's manifest blob and populates Files/Dirs/Links
// in deterministic manifest order, depots in declaration order (spec.md §4.1
// "Output of get_files() is deterministic").
func (m *Gen2Manifest) GetFiles(client *apiclient.Client, logger *zap.SugaredLogger) error {
	for _, depot := range m.Depots {
		body, err := client.GetZlibJSON(fmt.Sprintf("%s/content-system/v2/meta/%s", apiclient.CDNBase, GalaxyPath(depot.ManifestMD5)))
		if err != nil {
			return fmt.Errorf("fetch depot manifest %s: %w", depot.ManifestMD5, err)
		}
		var parsed struct {
			Depot struct {
				Items []depotItemEnvelope `json:"items"`
			} `json:"depot"`
		}
		if err := DecodeZlibJSON(body, &parsed); err != nil {
			return fmt.Errorf("parse depot manifest %s: %w", depot.ManifestMD5, err)
		}
		for _, item := range parsed.Depot.Items {
			switch item.Type {
			case "DepotFile":
				m.Files = append(m.Files, DepotFile{
					Path:      normalizePath(item.Path),
					Flags:     item.Flags,
					MD5:       item.MD5,
					SHA256:    item.SHA256,
					Chunks:    item.Chunks,
					ProductID: depot.ProductID,
				})
			case "DepotLink":
				m.Links = append(m.Links, DepotLink{Path: normalizePath(item.Path), Target: item.Target})
			default:
				m.Dirs = append(m.Dirs, DepotDirectory{Path: strings.TrimSuffix(normalizePath(item.Path), string(filepath.Separator))})
			}
		}
	}
	return nil
}

// SerializeToJSON re-marshals the raw manifest document verbatim, for
// persistence under <config>/manifests/<product-id> (spec.md §3 Invariants,
// §6 On-disk layout).
func (m *Gen2Manifest) SerializeToJSON() ([]byte, error) {
	return jsonMarshal(m.raw)
}

// SaveManifest persists the target manifest blob after a clean run
// (spec.md §4.6 Orchestrator shutdown).
func SaveManifest(configPath, productID string, data []byte) error {
	dir := filepath.Join(configPath, "manifests")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest store: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, productID), data, 0o644)
}

// LoadManifest reads back a previously persisted target manifest, returning
// (nil, nil) if none exists (first-ever install).
func LoadManifest(configPath, productID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(configPath, "manifests", productID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stored manifest: %w", err)
	}
	return data, nil
}
