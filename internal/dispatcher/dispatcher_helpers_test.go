package dispatcher

import (
	"testing"

	"github.com/copilot-gateway/gateway/internal/config"
	"github.com/copilot-gateway/gateway/internal/transforms"
)

func TestPipelineFor_ConfigJSONOverridesManifest(t *testing.T) {
	cfg := &config.Config{Transforms: config.Transforms{
		Enabled:   true,
		Pipelines: map[string][]string{"openai": {"claude-code"}},
	}}
	manifest := transforms.Manifest{Enabled: true, Pipelines: map[string][]string{"openai": {"model-router"}}}

	p := pipelineFor(cfg, manifest, "openai")
	if len(p.Names) != 1 || p.Names[0] != "claude-code" {
		t.Fatalf("expected config.json pipeline to win, got %+v", p.Names)
	}
}

func TestPipelineFor_FallsBackToManifestWhenConfigNamesNone(t *testing.T) {
	cfg := &config.Config{Transforms: config.Transforms{Enabled: true}}
	manifest := transforms.Manifest{Enabled: true, Pipelines: map[string][]string{"ollama": {"model-router"}}}

	p := pipelineFor(cfg, manifest, "ollama")
	if len(p.Names) != 1 || p.Names[0] != "model-router" {
		t.Fatalf("expected manifest pipeline as fallback, got %+v", p.Names)
	}
	if !p.Enabled {
		t.Fatal("expected pipeline enabled via config.json's global switch")
	}
}

func TestPipelineFor_NoPipelineAnywhereIsEmpty(t *testing.T) {
	cfg := &config.Config{}
	manifest := transforms.Manifest{}

	p := pipelineFor(cfg, manifest, "anthropic")
	if len(p.Names) != 0 {
		t.Fatalf("expected no pipeline, got %+v", p.Names)
	}
}
