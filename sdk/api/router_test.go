package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/copilot-gateway/gateway/internal/catalog"
	"github.com/copilot-gateway/gateway/internal/config"
	"github.com/copilot-gateway/gateway/internal/dispatcher"
	"github.com/copilot-gateway/gateway/internal/resolver"
	"github.com/copilot-gateway/gateway/internal/selector"
	"github.com/copilot-gateway/gateway/internal/transforms"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	cat := catalog.New(dir, nil)
	res := resolver.New(nil, nil)
	d := &dispatcher.Dispatcher{
		Resolver:     res,
		Catalog:      cat,
		Mapper:       selector.NewMappingOverrides(),
		TransformReg: transforms.NewRegistry(),
		Config:       func() *config.Config { return &config.Config{Model: config.Model{Default: "gpt-4o"}} },
		Manifest:     func() transforms.Manifest { return transforms.Manifest{Pipelines: map[string][]string{}} },
		ConfigDir:    dir,
	}
	return NewRouter(d)
}

func TestRoot_ReportsLivenessAndEndpoints(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gjson.GetBytes(rec.Body.Bytes(), "status").String() != "ok" {
		t.Fatal("expected status ok")
	}
}

func TestVersionAndHealth_ReturnStaticStubs(t *testing.T) {
	r := testRouter(t)

	for _, path := range []string{"/api/version", "/api/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestCORSHeaders_AreSetOnEveryResponse(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected a CORS allow-origin header")
	}
}

func TestListModels_NoTokenReturns401(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no credential, got %d", rec.Code)
	}
	if gjson.GetBytes(rec.Body.Bytes(), "error.type").String() != "authentication_error" {
		t.Fatalf("expected authentication_error envelope, got %s", rec.Body.String())
	}
}

func TestTags_NoTokenReturnsEmptyModelsNotAnError(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gjson.GetBytes(rec.Body.Bytes(), "models").Type != gjson.JSON {
		t.Fatal("expected a models array")
	}
}
