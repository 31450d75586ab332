package transforms

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk transforms.yaml shape: per-route pipelines plus
// the two kill-switches also exposed as transforms.* config keys.
type Manifest struct {
	Enabled      bool                `yaml:"enabled"`
	AllowScripts bool                `yaml:"allow_scripts"`
	Pipelines    map[string][]string `yaml:"pipelines"`
}

// LoadManifest reads transforms.yaml from dir. A missing file yields a
// disabled, empty Manifest rather than an error: the pipeline is
// optional infrastructure, not a required config surface.
func LoadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, "transforms.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{Pipelines: map[string][]string{}}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("transforms: read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{Pipelines: map[string][]string{}}, nil
	}
	if m.Pipelines == nil {
		m.Pipelines = map[string][]string{}
	}
	return m, nil
}

// PipelineFor builds the Pipeline for one route from the manifest,
// respecting the global enabled switch.
func (m Manifest) PipelineFor(route string) Pipeline {
	return Pipeline{Enabled: m.Enabled, Names: m.Pipelines[route]}
}
