package apierror

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestBuild_OpenAIShapeEnvelope(t *testing.T) {
	status, body := Build(KindInvalidRequest, "bad body", SchemaOpenAI, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Message != "bad body" || env.Error.Type != "invalid_request_error" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestBuild_OllamaShapeIsFlatString(t *testing.T) {
	_, body := Build(KindUpstreamAuth, "reauthenticate", SchemaOllama, nil)
	var m map[string]string
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["error"] != "reauthenticate" {
		t.Fatalf("expected flat error string, got %+v", m)
	}
}

func TestBuild_ForwardsValidUpstreamBodyUnchanged(t *testing.T) {
	raw := []byte(`{"custom":"upstream shape"}`)
	_, body := Build(KindUpstreamPermanent, "ignored", SchemaOpenAI, raw)
	if string(body) != string(raw) {
		t.Fatalf("expected raw upstream body forwarded, got %s", body)
	}
}

func TestBuild_MissingCredentialsIsUnauthorized(t *testing.T) {
	status, _ := Build(KindMissingCredentials, "no token", SchemaOpenAI, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestBuild_UpstreamPermanentForwardsRealUpstreamStatus(t *testing.T) {
	raw := []byte(`{"error":"not found"}`)
	status, body := Build(KindUpstreamPermanent, "ignored", SchemaOpenAI, raw, http.StatusNotFound)
	if status != http.StatusNotFound {
		t.Fatalf("expected upstream's 404 forwarded, got %d", status)
	}
	if string(body) != string(raw) {
		t.Fatalf("expected raw upstream body forwarded, got %s", body)
	}
}

func TestBuild_UpstreamPermanentDefaultsTo502WithoutUpstreamStatus(t *testing.T) {
	status, _ := Build(KindUpstreamPermanent, "opaque failure", SchemaOpenAI, nil)
	if status != http.StatusBadGateway {
		t.Fatalf("expected 502 fallback when no upstream status is known, got %d", status)
	}
}
