package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/syncbox/internal/replica"
	"gopkg.in/yaml.v3"
)

// ManifestEntry describes one replica the service should know about.
type ManifestEntry struct {
	Name      string `yaml:"name"`
	RemoteURL string `yaml:"remote_url"`
	LocalPath string `yaml:"local_path"`

	// Per-replica overrides. Zero values fall back to the service defaults.
	BehaviorExisting string        `yaml:"behavior_existing"`
	BehaviorNew      string        `yaml:"behavior_new"`
	OpenDeadline     time.Duration `yaml:"open_deadline"`
	OnTimeout        string        `yaml:"on_timeout"`
}

// Locator converts the entry into the locator the open orchestration uses.
func (e *ManifestEntry) Locator() replica.Locator {
	return replica.Locator{
		Name:      e.Name,
		RemoteURL: e.RemoteURL,
		LocalPath: e.LocalPath,
	}
}

// Manifest is the set of replicas declared in the replicas file.
type Manifest struct {
	Replicas []ManifestEntry `yaml:"replicas"`
}

// LoadManifest reads and validates the replicas manifest. Entries without a
// local_path get one derived from dataDir and the replica name.
func LoadManifest(path, dataDir string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Replicas))

	for i := range m.Replicas {
		entry := &m.Replicas[i]

		if entry.Name == "" {
			return nil, fmt.Errorf("manifest entry %d has no name", i)
		}

		if seen[entry.Name] {
			return nil, fmt.Errorf("duplicate replica %q in manifest", entry.Name)
		}

		seen[entry.Name] = true

		if entry.RemoteURL == "" {
			return nil, fmt.Errorf("replica %q has no remote_url", entry.Name)
		}

		if entry.LocalPath == "" {
			entry.LocalPath = filepath.Join(dataDir, entry.Name+".db")
		}
	}

	return &m, nil
}

// Lookup returns the manifest entry for name, or nil when unknown.
func (m *Manifest) Lookup(name string) *ManifestEntry {
	for i := range m.Replicas {
		if m.Replicas[i].Name == name {
			return &m.Replicas[i]
		}
	}

	return nil
}
