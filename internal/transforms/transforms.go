// Package transforms implements the optional request/response interceptor
// pipeline: an ordered, allow-listed chain of named modules per
// route, guarded by a global enabled switch and a separate allow_scripts
// switch for file-loaded modules. Grounded on CLIProxyAPI's
// internal/registry allow-list idiom and its gjson/sjson payload rewriting
// (internal/translator/openai/grok) applied to a generic pipeline stage
// contract instead of a single hard-coded provider conversion.
package transforms

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Module is a single pipeline stage: a pure function over the request or
// response payload. Returning an unmodified payload (or the input itself)
// is always valid; returning an error never fails the request: the
// pipeline logs and moves to the next module.
type Module func(ctx context.Context, payload []byte, headers map[string]string) (outPayload []byte, outHeaders map[string]string, err error)

// Registry is the allow-list of named modules available to pipelines.
// Only modules present here, and named in a route's configured pipeline,
// ever run.
type Registry struct {
	modules map[string]Module
}

// NewRegistry constructs a Registry seeded with the built-in modules.
func NewRegistry() *Registry {
	r := &Registry{modules: make(map[string]Module)}
	r.Register("model-router", ModelRouter(nil))
	r.Register("claude-code", ClaudeCodePlaceholder)
	return r
}

// Register adds or overwrites a named module.
func (r *Registry) Register(name string, m Module) {
	r.modules[name] = m
}

// Lookup returns the named module, if allow-listed.
func (r *Registry) Lookup(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Pipeline is an ordered list of module names to run for one route.
type Pipeline struct {
	Enabled bool
	Names   []string
}

// Run executes each named module in order against payload/headers,
// skipping unknown names (logged) and never aborting on a module error
// (logged and skipped).
func Run(ctx context.Context, registry *Registry, p Pipeline, payload []byte, headers map[string]string) ([]byte, map[string]string) {
	if !p.Enabled {
		return payload, headers
	}
	for _, name := range p.Names {
		module, ok := registry.Lookup(name)
		if !ok {
			log.Warnf("transforms: pipeline references unknown module %q, skipping", name)
			continue
		}
		out, outHeaders, err := module(ctx, payload, headers)
		if err != nil {
			log.Warnf("transforms: module %q failed, skipping: %v", name, err)
			continue
		}
		if out != nil {
			payload = out
		}
		if outHeaders != nil {
			headers = outHeaders
		}
	}
	return payload, headers
}

// ClaudeCodePlaceholder is a built-in module kept registered but disabled
// by default in every shipped pipeline. It is a deliberate no-op until a
// concrete Claude Code wire adaptation exists.
func ClaudeCodePlaceholder(_ context.Context, payload []byte, headers map[string]string) ([]byte, map[string]string, error) {
	return payload, headers, nil
}
