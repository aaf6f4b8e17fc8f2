package lifecycle

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists the assets seeded into the static store on install
type Manifest struct {
	Assets []string `yaml:"assets"`
}

// DefaultManifest is used when no manifest file is configured
func DefaultManifest() Manifest {
	return Manifest{Assets: []string{"/", "/manifest.json", "/favicon.ico"}}
}

// LoadManifest reads a YAML manifest such as:
//
//	assets:
//	  - /
//	  - /static/app.js
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a YAML manifest, dropping blanks and duplicates
func ParseManifest(data []byte) (Manifest, error) {
	var raw Manifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}

	seen := make(map[string]bool, len(raw.Assets))
	m := Manifest{Assets: make([]string, 0, len(raw.Assets))}
	for _, a := range raw.Assets {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		m.Assets = append(m.Assets, a)
	}
	if len(m.Assets) == 0 {
		return Manifest{}, fmt.Errorf("manifest lists no assets")
	}
	return m, nil
}
