package transforms

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tidwall/gjson"
)

func TestRun_DisabledPipelinePassesThrough(t *testing.T) {
	reg := NewRegistry()
	payload := []byte(`{"model":"gpt-4"}`)
	out, _ := Run(context.Background(), reg, Pipeline{Enabled: false, Names: []string{"model-router"}}, payload, nil)
	if string(out) != string(payload) {
		t.Fatal("expected passthrough when pipeline disabled")
	}
}

func TestRun_UnknownModuleIsSkipped(t *testing.T) {
	reg := NewRegistry()
	payload := []byte(`{"model":"gpt-4"}`)
	out, _ := Run(context.Background(), reg, Pipeline{Enabled: true, Names: []string{"does-not-exist"}}, payload, nil)
	if string(out) != string(payload) {
		t.Fatal("expected payload unchanged when module unknown")
	}
}

func TestRun_ModuleErrorIsSwallowedAndNextRuns(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(ctx context.Context, payload []byte, headers map[string]string) ([]byte, map[string]string, error) {
		return nil, nil, errors.New("module failed")
	})
	reg.Register("mark", func(ctx context.Context, payload []byte, headers map[string]string) ([]byte, map[string]string, error) {
		out := append([]byte{}, payload...)
		return out, map[string]string{"X-Marked": "1"}, nil
	})
	payload := []byte(`{"model":"gpt-4"}`)
	out, headers := Run(context.Background(), reg, Pipeline{Enabled: true, Names: []string{"boom", "mark"}}, payload, nil)
	if string(out) != string(payload) {
		t.Fatal("expected payload preserved after failing module")
	}
	if headers["X-Marked"] != "1" {
		t.Fatal("expected subsequent module to still run after a prior failure")
	}
}

func TestModelRouter_StaticMapTakesPrecedenceOverPrefix(t *testing.T) {
	rules := &ModelRouterRules{
		Static:      map[string]string{"ghost": "gpt-4"},
		PrefixRules: []PrefixRule{{Prefix: "gh", To: "wrong"}},
	}
	module := ModelRouter(rules)
	out, _, err := module(context.Background(), []byte(`{"model":"ghost"}`), nil)
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	if gjson.GetBytes(out, "model").String() != "gpt-4" {
		t.Fatalf("expected static map match, got %q", gjson.GetBytes(out, "model").String())
	}
}

func TestModelRouter_PrefixRuleAppliesCaseInsensitively(t *testing.T) {
	rules := &ModelRouterRules{PrefixRules: []PrefixRule{{Prefix: "claude-3-5-", To: "gpt-5"}}}
	module := ModelRouter(rules)
	out, _, err := module(context.Background(), []byte(`{"model":"Claude-3-5-Sonnet"}`), nil)
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	if gjson.GetBytes(out, "model").String() != "gpt-5" {
		t.Fatalf("expected prefix rule match, got %q", gjson.GetBytes(out, "model").String())
	}
}

func TestLoadManifest_MissingFileYieldsDisabledEmpty(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Enabled {
		t.Fatal("expected disabled by default when no manifest exists")
	}
}

func TestLoadManifest_ParsesPipelinesPerRoute(t *testing.T) {
	dir := t.TempDir()
	content := "enabled: true\nallow_scripts: false\npipelines:\n  openai:\n    - model-router\n"
	if err := os.WriteFile(filepath.Join(dir, "transforms.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if !m.Enabled {
		t.Fatal("expected enabled=true")
	}
	p := m.PipelineFor("openai")
	if len(p.Names) != 1 || p.Names[0] != "model-router" {
		t.Fatalf("expected openai pipeline with model-router, got %+v", p)
	}
}

func TestLoadManifest_MalformedYAMLDiscarded(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "transforms.yaml"), []byte("not: [valid: yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest should not error on malformed file: %v", err)
	}
	if m.Enabled {
		t.Fatal("expected discarded state to be disabled")
	}
}
