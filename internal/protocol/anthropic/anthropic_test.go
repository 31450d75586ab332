package anthropic

import (
	"testing"

	"github.com/tidwall/gjson"
)

func echoResolver(m string) string { return "resolved-" + m }

func TestNormalize_JoinsContentBlocksAndAppliesSystem(t *testing.T) {
	raw := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"system": "be terse",
		"messages": [
			{"role":"user","content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}
		]
	}`)
	out, model, err := Normalize(raw, echoResolver)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if model != "claude-3-5-sonnet-20241022" {
		t.Fatalf("expected original anthropic model retained, got %q", model)
	}
	if gjson.GetBytes(out, "model").String() != "resolved-claude-3-5-sonnet-20241022" {
		t.Fatalf("expected resolved upstream model, got %q", gjson.GetBytes(out, "model").String())
	}
	msgs := gjson.GetBytes(out, "messages").Array()
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	if msgs[0].Get("role").String() != "system" || msgs[0].Get("content").String() != "be terse" {
		t.Fatalf("expected system message first, got %+v", msgs[0])
	}
	if msgs[1].Get("content").String() != "line one\nline two" {
		t.Fatalf("expected joined content blocks, got %q", msgs[1].Get("content").String())
	}
}

func TestNormalize_PromotesPromptWhenMessagesAbsent(t *testing.T) {
	raw := []byte(`{"model":"claude-3-haiku-20240307","prompt":"hello there"}`)
	out, _, err := Normalize(raw, echoResolver)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	msgs := gjson.GetBytes(out, "messages").Array()
	if len(msgs) != 1 || msgs[0].Get("content").String() != "hello there" {
		t.Fatalf("expected promoted prompt as sole message, got %s", gjson.GetBytes(out, "messages").Raw)
	}
}

func TestNormalize_RejectsEmptyMessagesWithoutPromptOrInput(t *testing.T) {
	raw := []byte(`{"model":"claude-3-opus-20240229"}`)
	_, _, err := Normalize(raw, echoResolver)
	if err == nil {
		t.Fatal("expected invalid_request error")
	}
}

func TestNormalize_RejectsStreaming(t *testing.T) {
	raw := []byte(`{"model":"claude-3-opus-20240229","stream":true,"prompt":"x"}`)
	_, _, err := Normalize(raw, echoResolver)
	if err == nil {
		t.Fatal("expected streaming to be rejected")
	}
}

func TestShapeResponse_MapsFinishReasonAndRetainsClientModelName(t *testing.T) {
	upstream := []byte(`{"id":"up-1","choices":[{"message":{"role":"assistant","content":"hi there"},"finish_reason":"length"}],"usage":{"prompt_tokens":5,"completion_tokens":7}}`)
	out := ShapeResponse(upstream, "claude-3-5-sonnet-20241022", "req-1")
	if gjson.GetBytes(out, "model").String() != "claude-3-5-sonnet-20241022" {
		t.Fatal("expected client-facing model name retained")
	}
	if gjson.GetBytes(out, "content.0.text").String() != "hi there" {
		t.Fatal("expected extracted text content")
	}
	if gjson.GetBytes(out, "stop_reason").String() != "max_tokens" {
		t.Fatalf("expected max_tokens stop_reason, got %q", gjson.GetBytes(out, "stop_reason").String())
	}
	if gjson.GetBytes(out, "usage.input_tokens").Int() != 5 {
		t.Fatal("expected input_tokens mapped from prompt_tokens")
	}
}

func TestShapeResponse_NullStopReasonWhenAbsent(t *testing.T) {
	upstream := []byte(`{"choices":[{"message":{"content":"hi"}}]}`)
	out := ShapeResponse(upstream, "claude-3-opus-20240229", "req-2")
	v := gjson.GetBytes(out, "stop_reason")
	if v.Type != gjson.Null {
		t.Fatalf("expected null stop_reason, got %q", v.Raw)
	}
}
