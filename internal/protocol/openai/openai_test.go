package openai

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestNormalize_PassesThroughAndFillsDefaults(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	out, model, stream, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if model != "gpt-4o" {
		t.Fatalf("expected requested model gpt-4o, got %q", model)
	}
	if stream {
		t.Fatal("expected stream=false")
	}
	if gjson.GetBytes(out, "temperature").Float() != defaultTemperature {
		t.Fatalf("expected default temperature, got %v", gjson.GetBytes(out, "temperature"))
	}
	if gjson.GetBytes(out, "max_tokens").Int() != defaultMaxTokens {
		t.Fatalf("expected default max_tokens, got %v", gjson.GetBytes(out, "max_tokens"))
	}
}

func TestNormalize_PreservesExplicitValues(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","messages":[],"temperature":0.9,"max_tokens":128,"stream":true}`)
	out, _, stream, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !stream {
		t.Fatal("expected stream=true")
	}
	if gjson.GetBytes(out, "temperature").Float() != 0.9 {
		t.Fatalf("expected explicit temperature preserved, got %v", gjson.GetBytes(out, "temperature"))
	}
	if gjson.GetBytes(out, "max_tokens").Int() != 128 {
		t.Fatalf("expected explicit max_tokens preserved, got %v", gjson.GetBytes(out, "max_tokens"))
	}
}

func TestFromLegacyCompletion_ConvertsPromptToMessage(t *testing.T) {
	raw := []byte(`{"model":"gpt-4","prompt":"say hi","max_tokens":50}`)
	out, model, _, err := FromLegacyCompletion(raw)
	if err != nil {
		t.Fatalf("FromLegacyCompletion: %v", err)
	}
	if model != "gpt-4" {
		t.Fatalf("expected model gpt-4, got %q", model)
	}
	msgs := gjson.GetBytes(out, "messages")
	if !msgs.IsArray() || len(msgs.Array()) != 1 {
		t.Fatalf("expected single converted message, got %s", msgs.Raw)
	}
	if msgs.Array()[0].Get("content").String() != "say hi" {
		t.Fatalf("expected prompt content preserved, got %s", msgs.Array()[0].Get("content").Raw)
	}
}

func TestShapeNonStream_FillsMissingFields(t *testing.T) {
	upstream := []byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`)
	out := ShapeNonStream(upstream, "gpt-4o", "req-1", 1700000000)
	if gjson.GetBytes(out, "id").String() != "chatcmpl-req-1" {
		t.Fatal("expected id backfilled from request id")
	}
	if gjson.GetBytes(out, "object").String() != "chat.completion" {
		t.Fatal("expected object filled in")
	}
	if gjson.GetBytes(out, "model").String() != "gpt-4o" {
		t.Fatal("expected model filled in")
	}
	if gjson.GetBytes(out, "created").Int() != 1700000000 {
		t.Fatal("expected created filled in")
	}
}

func TestShapeNonStream_LeavesUpstreamFieldsAlone(t *testing.T) {
	upstream := []byte(`{"id":"up-1","object":"chat.completion","model":"upstream-model","created":1}`)
	out := ShapeNonStream(upstream, "requested-model", "req-2", 999)
	if gjson.GetBytes(out, "id").String() != "up-1" {
		t.Fatal("expected upstream id preserved over generated request id")
	}
	if gjson.GetBytes(out, "model").String() != "upstream-model" {
		t.Fatal("expected upstream model preserved over requested")
	}
}

func TestAnonymousStub_HasAssistantNotice(t *testing.T) {
	out := AnonymousStub("gpt-5", 1)
	content := gjson.GetBytes(out, "choices.0.message.content").String()
	if content == "" {
		t.Fatal("expected non-empty anonymous notice")
	}
	if gjson.GetBytes(out, "object").String() != "chat.completion" {
		t.Fatal("expected non-streaming chat.completion object")
	}
}

func TestAnonymousStreamStub_FramesSSEWithDeltaAndDone(t *testing.T) {
	out := AnonymousStreamStub("gpt-5", 1)
	s := string(out)
	if !strings.Contains(s, "data: ") {
		t.Fatal("expected SSE data: framing")
	}
	if !strings.HasSuffix(strings.TrimSpace(s), "data: [DONE]") {
		t.Fatal("expected stream to terminate with [DONE]")
	}
	firstLine := strings.SplitN(s, "\n\n", 2)[0]
	firstPayload := strings.TrimPrefix(firstLine, "data: ")
	if gjson.Get(firstPayload, "choices.0.delta.content").String() == "" {
		t.Fatal("expected first chunk to carry the anonymous notice in delta.content")
	}
	if gjson.Get(firstPayload, "object").String() != "chat.completion.chunk" {
		t.Fatal("expected chat.completion.chunk object")
	}
}
