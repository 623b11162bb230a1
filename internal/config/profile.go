package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Profile holds the subset of Config a user can pin in a YAML file so every
// invocation doesn't have to repeat the same flags, mirroring vjache-cie's
// .cie/project.yaml pattern.
type Profile struct {
	Platform    string   `yaml:"platform,omitempty"`
	Language    string   `yaml:"language,omitempty"`
	WorkerCount int      `yaml:"worker_count,omitempty"`
	DLCIDs      []string `yaml:"dlc_ids,omitempty"`
	MetricsAddr string   `yaml:"metrics_addr,omitempty"`
}

// LoadProfile reads a YAML profile file; a missing file is not an error,
// it just means no overrides apply.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Apply overlays non-zero profile fields onto cfg, letting explicit CLI
// flags (applied after Apply) take final precedence.
func (p *Profile) Apply(cfg *Config) {
	if p == nil {
		return
	}
	if p.Platform != "" {
		cfg.Platform = Platform(p.Platform)
	}
	if p.Language != "" {
		cfg.Language = p.Language
	}
	if p.WorkerCount > 0 {
		cfg.WorkerCount = p.WorkerCount
	}
	if len(p.DLCIDs) > 0 {
		cfg.DLCIDs = p.DLCIDs
	}
}
