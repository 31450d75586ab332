package selector

import (
	"strings"
	"sync"
)

// Built-in Copilot ids the default Anthropic name mappings resolve to,
// following CLIProxyAPI's registry prefix-alias idiom
// (GenerateIFlowAliases / GenerateKimiAliases) applied to Anthropic
// model families instead of iFlow/Kimi ones.
const (
	DefaultSonnetModel = "claude-3.5-sonnet"
	DefaultHaikuModel  = "claude-3-haiku"
	DefaultOpusModel   = "claude-3-opus"
)

// MappingOverrides translates one model-name namespace (e.g. Anthropic
// model names) to upstream Copilot model ids. Two layers: immutable
// built-in prefix rules and a mutable, non-persisted, per-server-instance
// session override.
type MappingOverrides struct {
	mu      sync.RWMutex
	session map[string]string
}

// NewMappingOverrides constructs an empty session override layer.
func NewMappingOverrides() *MappingOverrides {
	return &MappingOverrides{session: make(map[string]string)}
}

// Set inserts or overwrites a session override, e.g. from the in-chat
// ::--set-model command.
func (m *MappingOverrides) Set(in, out string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session[strings.ToLower(in)] = out
}

// Reset clears all session overrides.
func (m *MappingOverrides) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = make(map[string]string)
}

// Snapshot returns a copy of the current session overrides.
func (m *MappingOverrides) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.session))
	for k, v := range m.session {
		out[k] = v
	}
	return out
}

// Resolve maps an Anthropic model name to a Copilot model id: session
// override first, then the built-in prefix rules, then the configured
// default model ("gpt-5" when that is empty). There is no exact-name
// table; a name matching no prefix rule goes to the configured default.
func (m *MappingOverrides) Resolve(anthropicModel, configuredDefault string) string {
	key := strings.ToLower(strings.TrimSpace(anthropicModel))
	if key == "" {
		return configuredDefault
	}

	m.mu.RLock()
	if out, ok := m.session[key]; ok {
		m.mu.RUnlock()
		return out
	}
	m.mu.RUnlock()

	switch {
	case strings.HasPrefix(key, "claude-3-5-"), strings.HasPrefix(key, "claude-3.5-"):
		return DefaultSonnetModel
	case strings.HasPrefix(key, "claude-3-haiku"):
		return DefaultHaikuModel
	case strings.HasPrefix(key, "claude-3-"), strings.HasPrefix(key, "claude-2"):
		return DefaultOpusModel
	}
	if configuredDefault != "" {
		return configuredDefault
	}
	return "gpt-5"
}
