// Package ollama adapts the /api/chat, /api/generate and supporting
// Ollama endpoints to the upstream OpenAI-shaped chat-completion request,
// including SSE-to-NDJSON streaming translation. Grounded on
// CLIProxyAPI's request/response translator pairing idiom
// (internal/translator/openai/grok) applied to the Ollama shape, with
// the streaming aggregator designed in CLIProxyAPI's
// executor-owns-the-reader style (internal/translator SSE handling).
package ollama

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/copilot-gateway/gateway/internal/protocol"
)

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.1
)

func numberField(root gjson.Result, name, optionsName string, fallback float64) (float64, bool) {
	if v := root.Get(name); v.Exists() {
		return v.Float(), true
	}
	if v := root.Get("options." + optionsName); v.Exists() {
		return v.Float(), true
	}
	return fallback, false
}

// NormalizeChat builds the upstream payload from an /api/chat request.
func NormalizeChat(raw []byte) (upstream []byte, stream bool, err error) {
	root := gjson.ParseBytes(raw)

	var messages []map[string]string
	if inbound := root.Get("messages"); inbound.Exists() && inbound.IsArray() {
		inbound.ForEach(func(_, msg gjson.Result) bool {
			messages = append(messages, map[string]string{
				"role":    msg.Get("role").String(),
				"content": protocol.ContentText(msg.Get("content")),
			})
			return true
		})
	}

	return assemble(root, messages)
}

// NormalizeGenerate builds the upstream payload from an /api/generate
// request, synthesizing a chat from optional system/template preambles
// plus the prompt as a single user message.
func NormalizeGenerate(raw []byte) (upstream []byte, stream bool, err error) {
	root := gjson.ParseBytes(raw)

	var messages []map[string]string
	if sys := root.Get("system"); sys.Exists() && sys.String() != "" {
		messages = append(messages, map[string]string{"role": "system", "content": sys.String()})
	}
	if tmpl := root.Get("template"); tmpl.Exists() && tmpl.String() != "" {
		messages = append(messages, map[string]string{"role": "system", "content": tmpl.String()})
	}
	messages = append(messages, map[string]string{"role": "user", "content": protocol.ContentText(root.Get("prompt"))})

	return assemble(root, messages)
}

func assemble(root gjson.Result, messages []map[string]string) (upstream []byte, stream bool, err error) {
	model := root.Get("model").String()
	stream = true
	if root.Get("stream").Exists() {
		stream = root.Get("stream").Bool()
	}

	maxTokens, _ := numberField(root, "max_tokens", "num_predict", defaultMaxTokens)
	temperature, _ := numberField(root, "temperature", "temperature", defaultTemperature)

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "messages", messages)
	out, _ = sjson.SetBytes(out, "max_tokens", int64(maxTokens))
	out, _ = sjson.SetBytes(out, "temperature", temperature)
	out, _ = sjson.SetBytes(out, "stream", stream)

	if v, ok := numberField(root, "top_p", "top_p", 0); ok {
		out, _ = sjson.SetBytes(out, "top_p", v)
	}
	if v, ok := numberField(root, "presence_penalty", "presence_penalty", 0); ok {
		out, _ = sjson.SetBytes(out, "presence_penalty", v)
	}
	if v, ok := numberField(root, "frequency_penalty", "frequency_penalty", 0); ok {
		out, _ = sjson.SetBytes(out, "frequency_penalty", v)
	}

	return out, stream, nil
}

// ShapeChatNonStream wraps the extracted assistant text into the Ollama
// /api/chat "done" chunk.
func ShapeChatNonStream(upstream []byte, model string, nowRFC3339 string) []byte {
	text := protocol.ContentText(gjson.GetBytes(upstream, "choices.0.message.content"))
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "created_at", nowRFC3339)
	out, _ = sjson.SetBytes(out, "message.role", "assistant")
	out, _ = sjson.SetBytes(out, "message.content", text)
	out, _ = sjson.SetBytes(out, "done", true)
	out, _ = sjson.SetBytes(out, "done_reason", doneReason(gjson.GetBytes(upstream, "choices.0.finish_reason").String()))
	return out
}

// ShapeGenerateNonStream wraps the extracted assistant text into the
// Ollama /api/generate "done" chunk.
func ShapeGenerateNonStream(upstream []byte, model string, nowRFC3339 string) []byte {
	text := protocol.ContentText(gjson.GetBytes(upstream, "choices.0.message.content"))
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "created_at", nowRFC3339)
	out, _ = sjson.SetBytes(out, "response", text)
	out, _ = sjson.SetBytes(out, "done", true)
	out, _ = sjson.SetBytes(out, "done_reason", doneReason(gjson.GetBytes(upstream, "choices.0.finish_reason").String()))
	return out
}

// doneReason carries upstream's own finish_reason vocabulary straight
// through ("stop", "length", ...) rather than remapping it onto
// Anthropic's stop_reason strings, defaulting to "stop" only when
// upstream omitted finish_reason entirely.
func doneReason(finishReason string) string {
	if finishReason == "" {
		return "stop"
	}
	return finishReason
}

// AnonymousStub renders the authenticate-first notice in the requested
// Ollama done-chunk variant ("chat" or "generate").
func AnonymousStub(kind, model, nowRFC3339 string) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "created_at", nowRFC3339)
	if kind == "generate" {
		out, _ = sjson.SetBytes(out, "response", protocol.AnonymousNotice)
	} else {
		out, _ = sjson.SetBytes(out, "message.role", "assistant")
		out, _ = sjson.SetBytes(out, "message.content", protocol.AnonymousNotice)
	}
	out, _ = sjson.SetBytes(out, "done", true)
	return out
}

// RenderCommand wraps locally-produced command-interpreter text in the
// requested Ollama done-chunk variant.
func RenderCommand(kind, model, text, nowRFC3339 string) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "created_at", nowRFC3339)
	if kind == "generate" {
		out, _ = sjson.SetBytes(out, "response", text)
	} else {
		out, _ = sjson.SetBytes(out, "message.role", "assistant")
		out, _ = sjson.SetBytes(out, "message.content", text)
	}
	out, _ = sjson.SetBytes(out, "done", true)
	return out
}

// StreamTranslator aggregates an upstream OpenAI SSE stream into Ollama
// newline-delimited JSON chunks. One instance per request; Feed is
// called once per incoming text/event-stream "data:" payload, and Finish
// (or a "[DONE]" payload) flushes the closing chunk, which carries the
// concatenated text of every segment.
type StreamTranslator struct {
	Kind  string // "chat" or "generate"
	Model string

	started      time.Time
	aggregated   strings.Builder
	finishReason string
	done         bool
}

// NewStreamTranslator constructs a translator; started marks the stream's
// start time for total_duration accounting.
func NewStreamTranslator(kind, model string, started time.Time) *StreamTranslator {
	return &StreamTranslator{Kind: kind, Model: model, started: started}
}

// Feed processes one upstream SSE "data:" payload (with the "data:" prefix
// already stripped and whitespace-trimmed) and returns zero or one
// outbound NDJSON lines (without the trailing newline).
func (s *StreamTranslator) Feed(payload string, nowRFC3339 string) [][]byte {
	if s.done {
		return nil
	}
	if payload == "[DONE]" {
		return s.finish(nowRFC3339)
	}
	if !gjson.Valid(payload) {
		return nil
	}

	root := gjson.Parse(payload)
	choice := root.Get("choices.0")
	if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
		s.finishReason = fr.String()
	}

	segment := protocol.ContentText(choice.Get("delta.content"))
	if segment == "" {
		return nil
	}
	s.aggregated.WriteString(segment)

	chunk := []byte(`{}`)
	chunk, _ = sjson.SetBytes(chunk, "model", s.Model)
	chunk, _ = sjson.SetBytes(chunk, "created_at", nowRFC3339)
	chunk, _ = sjson.SetBytes(chunk, "done", false)
	if s.Kind == "generate" {
		chunk, _ = sjson.SetBytes(chunk, "response", segment)
	} else {
		chunk, _ = sjson.SetBytes(chunk, "message.role", "assistant")
		chunk, _ = sjson.SetBytes(chunk, "message.content", segment)
	}
	return [][]byte{chunk}
}

// Finish flushes the closing done:true chunk; safe to call once at
// end-of-stream (reader exhaustion, [DONE], or cancellation).
func (s *StreamTranslator) Finish(nowRFC3339 string) [][]byte {
	return s.finish(nowRFC3339)
}

func (s *StreamTranslator) finish(nowRFC3339 string) [][]byte {
	if s.done {
		return nil
	}
	s.done = true

	chunk := []byte(`{}`)
	chunk, _ = sjson.SetBytes(chunk, "model", s.Model)
	chunk, _ = sjson.SetBytes(chunk, "created_at", nowRFC3339)
	chunk, _ = sjson.SetBytes(chunk, "done", true)
	if s.Kind == "generate" {
		chunk, _ = sjson.SetBytes(chunk, "response", s.aggregated.String())
	} else {
		chunk, _ = sjson.SetBytes(chunk, "message.role", "assistant")
		chunk, _ = sjson.SetBytes(chunk, "message.content", s.aggregated.String())
	}
	chunk, _ = sjson.SetBytes(chunk, "done_reason", doneReason(s.finishReason))
	chunk, _ = sjson.SetBytes(chunk, "total_duration", time.Since(s.started).Nanoseconds())
	chunk, _ = sjson.SetBytes(chunk, "load_duration", 0)
	chunk, _ = sjson.SetBytes(chunk, "prompt_eval_count", 0)
	chunk, _ = sjson.SetBytes(chunk, "eval_count", 0)
	return [][]byte{chunk}
}

// TranslateSSE reads a full upstream SSE body and writes one NDJSON line
// per emitted chunk to w, stopping at [DONE] or when reading r ends. It
// takes no context: cancellation reaches it only as a read error or EOF
// from r, so the caller owns binding the reader's lifetime to request
// cancellation.
func TranslateSSE(r io.Reader, w io.Writer, kind, model string, started time.Time, nowFn func() string) error {
	translator := NewStreamTranslator(kind, model, started)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		chunks := translator.Feed(payload, nowFn())
		if err := writeChunks(w, chunks); err != nil {
			return err
		}
		if payload == "[DONE]" {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		_ = writeChunks(w, translator.Finish(nowFn()))
		return err
	}
	return writeChunks(w, translator.Finish(nowFn()))
}

func writeChunks(w io.Writer, chunks [][]byte) error {
	for _, c := range chunks {
		if _, err := w.Write(append(bytes.TrimSpace(c), '\n')); err != nil {
			return err
		}
	}
	return nil
}
