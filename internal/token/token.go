// Package token classifies and redacts GitHub Copilot-ecosystem bearer
// credentials. Classification is intentionally prefix-only: the gateway
// never inspects a token's contents, only whether it plausibly belongs to
// the Copilot ecosystem, so unrelated bearer tokens found in inbound
// headers are rejected before they reach the upstream client.
package token

import "strings"

// recognizedPrefixes are the literal prefixes that classify a string as a
// Copilot-ecosystem credential. "gh*_" below is handled separately since
// it is a wildcard over the third character, not a literal prefix.
var recognizedPrefixes = []string{
	"ghu_",
	"ghp_",
	"gho_",
	"ghs_",
	"copilot_",
	"tid=",
}

// IsCopilotToken reports whether s classifies as a Copilot-ecosystem
// credential by prefix. It depends only on the string's leading bytes;
// it never evaluates length, charset, or any other property.
func IsCopilotToken(s string) bool {
	if s == "" {
		return false
	}
	for _, p := range recognizedPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return isGitHubGenericToken(s)
}

// isGitHubGenericToken matches the gh*_ wildcard family (e.g. ghr_, ghe_)
// that GitHub has introduced for newer token kinds without a literal
// entry in recognizedPrefixes.
func isGitHubGenericToken(s string) bool {
	if len(s) < 4 {
		return false
	}
	if s[0] != 'g' || s[1] != 'h' {
		return false
	}
	return s[3] == '_'
}

// Redact reduces a credential to its first 4 and last 4 characters so it
// remains recognizable in logs without being usable. Short strings that
// would overlap are fully masked instead.
func Redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "[redacted]"
	}
	return s[:4] + "…" + s[len(s)-4:]
}
