// Package anthropic adapts the /v1/messages wire shape to the upstream
// OpenAI-shaped chat-completion request and back. Grounded on the
// teacher's request/response translator pairing idiom
// (internal/translator/openai/grok, internal/translator/gemini/gemini)
// applied to the Anthropic shape.
package anthropic

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/copilot-gateway/gateway/internal/protocol"
)

// ModelResolver maps an Anthropic-named model to an upstream Copilot model
// id, per the Mapping Overrides (session override, then prefix rules, then
// configured default).
type ModelResolver func(anthropicModel string) string

// Normalize builds the upstream chat-completion payload from an inbound
// Anthropic messages request. Returns the upstream payload and the
// original Anthropic model name the client asked for (retained for the
// outbound response's "model" field).
func Normalize(raw []byte, resolve ModelResolver) (upstream []byte, requestedAnthropicModel string, err error) {
	root := gjson.ParseBytes(raw)

	if root.Get("stream").Bool() {
		return nil, "", &protocol.ErrInvalidRequest{Reason: "Anthropic streaming is not supported"}
	}

	var messages []map[string]string
	if sys := root.Get("system"); sys.Exists() && sys.String() != "" {
		messages = append(messages, map[string]string{"role": "system", "content": sys.String()})
	}

	if inbound := root.Get("messages"); inbound.Exists() && inbound.IsArray() && len(inbound.Array()) > 0 {
		inbound.ForEach(func(_, msg gjson.Result) bool {
			messages = append(messages, map[string]string{
				"role":    msg.Get("role").String(),
				"content": protocol.ContentText(msg.Get("content")),
			})
			return true
		})
	} else {
		promoted := root.Get("prompt").String()
		if promoted == "" {
			promoted = root.Get("input").String()
		}
		if promoted == "" {
			return nil, "", &protocol.ErrInvalidRequest{Reason: "messages is empty and no prompt/input to promote"}
		}
		messages = append(messages, map[string]string{"role": "user", "content": promoted})
	}

	requestedAnthropicModel = root.Get("model").String()
	upstreamModel := requestedAnthropicModel
	if resolve != nil {
		upstreamModel = resolve(requestedAnthropicModel)
	}

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "messages", messages)
	out, _ = sjson.SetBytes(out, "model", upstreamModel)
	out, _ = sjson.SetBytes(out, "stream", false)
	if v := root.Get("max_tokens"); v.Exists() {
		out, _ = sjson.SetRawBytes(out, "max_tokens", []byte(v.Raw))
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.SetRawBytes(out, "temperature", []byte(v.Raw))
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.SetRawBytes(out, "top_p", []byte(v.Raw))
	}

	return out, requestedAnthropicModel, nil
}

// ShapeResponse converts an upstream chat-completion response into the
// Anthropic message shape, retaining the client's requested model name.
// requestID backfills id when the upstream response didn't carry one.
func ShapeResponse(upstream []byte, requestedAnthropicModel, requestID string) []byte {
	root := gjson.ParseBytes(upstream)
	choice := root.Get("choices.0")
	text := protocol.ContentText(choice.Get("message.content"))

	out := []byte(`{}`)
	id := root.Get("id").String()
	if id == "" && requestID != "" {
		id = "msg-" + requestID
	} else if id == "" {
		id = "msg-" + requestedAnthropicModel
	}
	out, _ = sjson.SetBytes(out, "id", id)
	out, _ = sjson.SetBytes(out, "type", "message")
	out, _ = sjson.SetBytes(out, "role", "assistant")
	out, _ = sjson.SetBytes(out, "model", requestedAnthropicModel)
	out, _ = sjson.SetBytes(out, "content.0.type", "text")
	out, _ = sjson.SetBytes(out, "content.0.text", text)

	stopReason := protocol.FinishReasonToStopReason(choice.Get("finish_reason").String())
	if stopReason == "" {
		out, _ = sjson.SetBytes(out, "stop_reason", nil)
	} else {
		out, _ = sjson.SetBytes(out, "stop_reason", stopReason)
	}

	if usage := root.Get("usage"); usage.Exists() {
		out, _ = sjson.SetBytes(out, "usage.input_tokens", usage.Get("prompt_tokens").Int())
		out, _ = sjson.SetBytes(out, "usage.output_tokens", usage.Get("completion_tokens").Int())
	}
	return out
}

// AnonymousStub renders the authenticate-first notice in the Anthropic
// message shape.
func AnonymousStub(model string) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "id", "msg-anonymous")
	out, _ = sjson.SetBytes(out, "type", "message")
	out, _ = sjson.SetBytes(out, "role", "assistant")
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "content.0.type", "text")
	out, _ = sjson.SetBytes(out, "content.0.text", protocol.AnonymousNotice)
	out, _ = sjson.SetBytes(out, "stop_reason", "end_turn")
	return out
}

// RenderCommand wraps locally-produced command-interpreter text in the
// Anthropic message outbound shape.
func RenderCommand(model, text string) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "id", "msg-command")
	out, _ = sjson.SetBytes(out, "type", "message")
	out, _ = sjson.SetBytes(out, "role", "assistant")
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "content.0.type", "text")
	out, _ = sjson.SetBytes(out, "content.0.text", strings.TrimRight(text, "\n"))
	out, _ = sjson.SetBytes(out, "stop_reason", "end_turn")
	return out
}
