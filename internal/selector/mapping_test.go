package selector

import "testing"

func TestMappingOverrides_SessionOverrideWins(t *testing.T) {
	m := NewMappingOverrides()
	m.Set("claude-3-5-sonnet-20241022", "gpt-4o")
	if got := m.Resolve("Claude-3-5-Sonnet-20241022", "gpt-5"); got != "gpt-4o" {
		t.Fatalf("expected session override gpt-4o, got %q", got)
	}
}

func TestMappingOverrides_PrefixRules(t *testing.T) {
	m := NewMappingOverrides()
	cases := map[string]string{
		"claude-3-5-sonnet-20241022": DefaultSonnetModel,
		"claude-3.5-sonnet":          DefaultSonnetModel,
		"claude-3-haiku-20240307":    DefaultHaikuModel,
		"claude-3-opus-20240229":     DefaultOpusModel,
		"claude-2.1":                 DefaultOpusModel,
	}
	for in, want := range cases {
		if got := m.Resolve(in, "gpt-5"); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMappingOverrides_UnknownFallsBackToConfiguredDefault(t *testing.T) {
	m := NewMappingOverrides()
	if got := m.Resolve("some-unknown-model", "gpt-4o"); got != "gpt-4o" {
		t.Fatalf("expected configured default, got %q", got)
	}
}

func TestMappingOverrides_ResetClearsSession(t *testing.T) {
	m := NewMappingOverrides()
	m.Set("x", "y")
	m.Reset()
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty snapshot after reset, got %+v", snap)
	}
}
