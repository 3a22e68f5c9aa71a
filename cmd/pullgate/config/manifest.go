package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// Manifest lists additional images to gate alongside the primary one,
// e.g. the CI images for the other supported Python versions.
type Manifest struct {
	Images []ManifestImage `json:"images"`
}

// ManifestImage is one manifest entry. Ref may carry a tag or digest;
// an untagged ref gates :latest.
type ManifestImage struct {
	Ref      string            `json:"ref"`
	Env      map[string]string `json:"env,omitempty"`
	Platform string            `json:"platform,omitempty"`
}

// LoadManifest reads a YAML image manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	for i, img := range m.Images {
		if img.Ref == "" {
			return nil, fmt.Errorf("manifest image %d: missing ref", i)
		}
		if img.Platform != "" {
			if _, err := ParsePlatform(img.Platform); err != nil {
				return nil, fmt.Errorf("manifest image %d: %w", i, err)
			}
		}
	}

	return &m, nil
}
