package token

import "testing"

func TestIsCopilotToken(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"ghu_abcdef123456", true},
		{"ghp_abcdef123456", true},
		{"gho_abcdef123456", true},
		{"ghs_abcdef123456", true},
		{"copilot_abcdef", true},
		{"tid=abcdef", true},
		{"ghr_abcdef123456", true}, // gh*_ wildcard
		{"ghe_abcdef123456", true},
		{"sk-anthropic-abcdef", false},
		{"Bearer abcdef", false},
		{"", false},
		{"gh", false},
		{"gh_", false},
	}
	for _, c := range cases {
		if got := IsCopilotToken(c.in); got != c.want {
			t.Errorf("IsCopilotToken(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("ghu_1234567890abcdef"); got != "ghu_…cdef" {
		t.Errorf("Redact long token = %q", got)
	}
	if got := Redact("short"); got != "[redacted]" {
		t.Errorf("Redact short token = %q", got)
	}
	if got := Redact(""); got != "" {
		t.Errorf("Redact empty = %q", got)
	}
}
