// Package protocol holds the shared helpers used by the OpenAI, Anthropic
// and Ollama wire-format adapters (internal/protocol/openai, /anthropic,
// /ollama): the same inbound-content-extraction and anonymous-stub text
// every adapter needs, so each sub-package only carries its own shape
// rather than re-deriving these primitives. Grounded on CLIProxyAPI's
// gjson/sjson-based translator idiom (internal/translator/openai/grok).
package protocol

import (
	"strings"

	"github.com/tidwall/gjson"
)

// AnonymousNotice is returned in place of an upstream call when the server
// is running without a resolvable credential.
const AnonymousNotice = "No Copilot credential is configured for this server. Run the login flow to authenticate, then retry."

// ErrInvalidRequest marks a malformed adapter input; dispatchers map it to
// the route's invalid_request envelope.
type ErrInvalidRequest struct{ Reason string }

func (e *ErrInvalidRequest) Error() string { return e.Reason }

// ContentText extracts a best-effort plain-text rendering of an OpenAI-style
// "content" field: a bare string, or an array of {type:"text", text} (and
// similar) parts, joined with newlines.
func ContentText(content gjson.Result) string {
	if !content.Exists() {
		return ""
	}
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Type == gjson.String {
				parts = append(parts, part.String())
				return true
			}
			if t := part.Get("text"); t.Exists() {
				parts = append(parts, t.String())
				return true
			}
			if t := part.Get("content"); t.Exists() && t.Type == gjson.String {
				parts = append(parts, t.String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return ""
}

// LastUserText returns the trimmed text content of the last message in an
// OpenAI-shaped messages array, used by the in-chat command interpreter to
// look for a trigger prefix.
func LastUserText(messages gjson.Result) string {
	if !messages.Exists() || !messages.IsArray() {
		return ""
	}
	arr := messages.Array()
	if len(arr) == 0 {
		return ""
	}
	return strings.TrimSpace(ContentText(arr[len(arr)-1].Get("content")))
}

// FinishReasonToStopReason maps an OpenAI-style finish_reason to Anthropic's
// stop_reason vocabulary: max_tokens on "length", end_turn otherwise,
// null/empty when absent.
func FinishReasonToStopReason(finishReason string) string {
	switch finishReason {
	case "":
		return ""
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}
