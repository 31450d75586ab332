// Package openai adapts the OpenAI /v1/chat/completions and legacy
// /v1/completions wire shapes. The upstream Copilot API is itself
// OpenAI-shaped, so normalization is mostly pass-through with
// default-filling, grounded on CLIProxyAPI's
// ConvertOpenAIResponseToOpenAI* pattern in
// internal/translator/openai/openai/chat-completions.
package openai

import (
	"bytes"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/copilot-gateway/gateway/internal/protocol"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 4096
)

// StreamHeaders are the fixed headers set on a forwarded SSE response.
func StreamHeaders() map[string]string {
	return map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	}
}

// Normalize builds the upstream chat-completion payload from an inbound
// OpenAI request, passing through the documented fields verbatim and
// filling in documented defaults. Returns the upstream payload, the
// caller-requested model id (possibly empty), and whether streaming was
// requested.
func Normalize(raw []byte) (upstream []byte, requestedModel string, stream bool, err error) {
	root := gjson.ParseBytes(raw)

	out := []byte(`{}`)
	passthrough := []string{
		"messages", "model", "temperature", "max_tokens", "stream", "top_p",
		"n", "stop", "presence_penalty", "frequency_penalty", "logit_bias", "user",
	}
	for _, field := range passthrough {
		if v := root.Get(field); v.Exists() {
			out, err = sjson.SetRawBytes(out, field, []byte(v.Raw))
			if err != nil {
				return nil, "", false, err
			}
		}
	}

	if !root.Get("temperature").Exists() {
		out, _ = sjson.SetBytes(out, "temperature", defaultTemperature)
	}
	if !root.Get("max_tokens").Exists() {
		out, _ = sjson.SetBytes(out, "max_tokens", defaultMaxTokens)
	}
	stream = root.Get("stream").Bool()
	if !root.Get("stream").Exists() {
		out, _ = sjson.SetBytes(out, "stream", false)
	}

	requestedModel = root.Get("model").String()
	return out, requestedModel, stream, nil
}

// FromLegacyCompletion converts a /v1/completions {prompt, model, ...}
// request into a chat-completion request with a single user message, then
// reuses Normalize.
func FromLegacyCompletion(raw []byte) (upstream []byte, requestedModel string, stream bool, err error) {
	root := gjson.ParseBytes(raw)
	prompt := root.Get("prompt").String()

	chat := []byte(`{}`)
	if model := root.Get("model"); model.Exists() {
		chat, _ = sjson.SetRawBytes(chat, "model", []byte(model.Raw))
	}
	for _, field := range []string{"temperature", "max_tokens", "stream", "top_p", "n", "stop", "presence_penalty", "frequency_penalty", "user"} {
		if v := root.Get(field); v.Exists() {
			chat, _ = sjson.SetRawBytes(chat, field, []byte(v.Raw))
		}
	}
	chat, _ = sjson.SetBytes(chat, "messages", []map[string]string{{"role": "user", "content": prompt}})

	return Normalize(chat)
}

// ShapeNonStream fills in id/object/model/created on the upstream response
// if the upstream omitted them; otherwise forwards the body unchanged.
// requestID backfills id only when the upstream response didn't already
// carry one.
func ShapeNonStream(upstream []byte, requestedModel, requestID string, nowUnix int64) []byte {
	out := upstream
	if !gjson.GetBytes(out, "id").Exists() && requestID != "" {
		out, _ = sjson.SetBytes(out, "id", "chatcmpl-"+requestID)
	}
	if !gjson.GetBytes(out, "object").Exists() {
		out, _ = sjson.SetBytes(out, "object", "chat.completion")
	}
	if !gjson.GetBytes(out, "model").Exists() && requestedModel != "" {
		out, _ = sjson.SetBytes(out, "model", requestedModel)
	}
	if !gjson.GetBytes(out, "created").Exists() {
		out, _ = sjson.SetBytes(out, "created", nowUnix)
	}
	return out
}

// AnonymousStub renders the fixed authenticate-first notice in the
// non-streaming chat completion outbound shape.
func AnonymousStub(model string, nowUnix int64) []byte {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "id", "chatcmpl-anonymous")
	body, _ = sjson.SetBytes(body, "object", "chat.completion")
	body, _ = sjson.SetBytes(body, "created", nowUnix)
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetBytes(body, "choices.0.index", 0)
	body, _ = sjson.SetBytes(body, "choices.0.message.role", "assistant")
	body, _ = sjson.SetBytes(body, "choices.0.message.content", protocol.AnonymousNotice)
	body, _ = sjson.SetBytes(body, "choices.0.finish_reason", "stop")
	return body
}

// AnonymousStreamStub renders the same authenticate-first notice as a
// single SSE delta chunk.chat.completion.chunk frame plus its closing
// frame and [DONE], matching the shape a real streamed completion uses.
func AnonymousStreamStub(model string, nowUnix int64) []byte {
	delta := []byte(`{}`)
	delta, _ = sjson.SetBytes(delta, "id", "chatcmpl-anonymous")
	delta, _ = sjson.SetBytes(delta, "object", "chat.completion.chunk")
	delta, _ = sjson.SetBytes(delta, "created", nowUnix)
	delta, _ = sjson.SetBytes(delta, "model", model)
	delta, _ = sjson.SetBytes(delta, "choices.0.index", 0)
	delta, _ = sjson.SetBytes(delta, "choices.0.delta.role", "assistant")
	delta, _ = sjson.SetBytes(delta, "choices.0.delta.content", protocol.AnonymousNotice)

	final := []byte(`{}`)
	final, _ = sjson.SetBytes(final, "id", "chatcmpl-anonymous")
	final, _ = sjson.SetBytes(final, "object", "chat.completion.chunk")
	final, _ = sjson.SetBytes(final, "created", nowUnix)
	final, _ = sjson.SetBytes(final, "model", model)
	final, _ = sjson.SetBytes(final, "choices.0.index", 0)
	final, _ = sjson.SetBytes(final, "choices.0.delta", map[string]any{})
	final, _ = sjson.SetBytes(final, "choices.0.finish_reason", "stop")

	var buf bytes.Buffer
	buf.WriteString("data: ")
	buf.Write(delta)
	buf.WriteString("\n\ndata: ")
	buf.Write(final)
	buf.WriteString("\n\ndata: [DONE]\n\n")
	return buf.Bytes()
}

// RenderCommand wraps locally-produced command-interpreter text in the
// chat completion outbound shape.
func RenderCommand(model, text string, nowUnix int64) []byte {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "id", "chatcmpl-command")
	body, _ = sjson.SetBytes(body, "object", "chat.completion")
	body, _ = sjson.SetBytes(body, "created", nowUnix)
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetBytes(body, "choices.0.index", 0)
	body, _ = sjson.SetBytes(body, "choices.0.message.role", "assistant")
	body, _ = sjson.SetBytes(body, "choices.0.message.content", text)
	body, _ = sjson.SetBytes(body, "choices.0.finish_reason", "stop")
	return body
}
