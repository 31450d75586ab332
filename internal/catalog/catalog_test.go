package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/copilot-gateway/gateway/internal/upstream"
)

type fakeClient struct {
	models       []upstream.ModelDescriptor
	listErr      error
	verifyResult map[string]bool
	listCalls    atomic.Int32
}

func (f *fakeClient) ListModels(ctx context.Context, token string) ([]upstream.ModelDescriptor, error) {
	f.listCalls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.models, nil
}

func (f *fakeClient) VerifyModel(ctx context.Context, token, modelID string) bool {
	return f.verifyResult[modelID]
}

func TestRefresh_Unverified(t *testing.T) {
	fc := &fakeClient{models: []upstream.ModelDescriptor{{ID: "gpt-4o"}, {ID: "gpt-4"}}}
	c := New(t.TempDir(), fc)

	entry, err := c.Refresh(context.Background(), RefreshOptions{ProfileID: "p1", Verify: false, Source: SourceManual})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if entry.Status != StatusReady {
		t.Fatalf("expected ready, got %q (%s)", entry.Status, entry.Error)
	}
	if len(entry.Models) != 2 {
		t.Fatalf("expected 2 models, got %+v", entry.Models)
	}
	if entry.Stats.Validated {
		t.Error("expected validated=false")
	}
}

func TestRefresh_Verified_NarrowsToWorking(t *testing.T) {
	fc := &fakeClient{
		models:       []upstream.ModelDescriptor{{ID: "gpt-4o"}, {ID: "gpt-4"}, {ID: "broken"}},
		verifyResult: map[string]bool{"gpt-4o": true, "gpt-4": true, "broken": false},
	}
	c := New(t.TempDir(), fc)

	entry, err := c.Refresh(context.Background(), RefreshOptions{ProfileID: "p1", Verify: true, Source: SourceManual})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(entry.Models) != 2 {
		t.Fatalf("expected 2 working models, got %+v", entry.Models)
	}
	if len(entry.FailedModels) != 1 || entry.FailedModels[0] != "broken" {
		t.Fatalf("expected broken to fail, got %+v", entry.FailedModels)
	}
	if len(entry.Models) > len(entry.RawModels) {
		t.Fatal("models must be subset of raw_models")
	}
}

func TestRefresh_ErrorClearsModels(t *testing.T) {
	fc := &fakeClient{listErr: errBoom}
	c := New(t.TempDir(), fc)

	entry, err := c.Refresh(context.Background(), RefreshOptions{ProfileID: "p1", Source: SourceManual})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if entry.Status != StatusError {
		t.Fatalf("expected error status, got %q", entry.Status)
	}
	if len(entry.Models) != 0 {
		t.Fatalf("expected empty models on error, got %+v", entry.Models)
	}
	if entry.FailedModels != nil {
		t.Fatalf("expected absent failed_models on error path, got %+v", entry.FailedModels)
	}
}

func TestGetEntry_StatusDerivation(t *testing.T) {
	fc := &fakeClient{models: []upstream.ModelDescriptor{{ID: "gpt-4o"}}}
	c := New(t.TempDir(), fc)
	if _, err := c.Refresh(context.Background(), RefreshOptions{ProfileID: "p1", TTLMs: 1, Source: SourceManual}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	v, ok := c.GetEntry("p1")
	if !ok {
		t.Fatal("expected entry")
	}
	if v.EffectiveStatus != StatusStale {
		t.Fatalf("expected stale after TTL elapsed, got %q", v.EffectiveStatus)
	}
}

func TestGetEntry_ReadOnlyDoesNotMutate(t *testing.T) {
	fc := &fakeClient{models: []upstream.ModelDescriptor{{ID: "gpt-4o"}}}
	c := New(t.TempDir(), fc)
	if _, err := c.Refresh(context.Background(), RefreshOptions{ProfileID: "p1", Source: SourceManual}); err != nil {
		t.Fatal(err)
	}
	v1, _ := c.GetEntry("p1")
	v2, _ := c.GetEntry("p1")
	if len(v1.Models) != len(v2.Models) || v1.Models[0] != v2.Models[0] {
		t.Fatal("expected identical models across reads")
	}
}

func TestRefresh_SingleFlightPerProfile(t *testing.T) {
	fc := &fakeClient{models: []upstream.ModelDescriptor{{ID: "gpt-4o"}}}
	c := New(t.TempDir(), fc)

	done := make(chan struct{})
	go func() {
		_, _ = c.Refresh(context.Background(), RefreshOptions{ProfileID: "p1", Source: SourceManual})
		done <- struct{}{}
	}()
	_, _ = c.Refresh(context.Background(), RefreshOptions{ProfileID: "p1", Source: SourceManual})
	<-done

	// Both calls should have resulted in at most 2 upstream ListModels
	// calls total (they may not perfectly overlap in this synchronous
	// test, but neither ever exceeds one in flight per profile id by
	// construction of singleflight.Group keyed on profile id).
	if fc.listCalls.Load() == 0 {
		t.Fatal("expected at least one ListModels call")
	}
}

func TestEnsureFresh_TriggersOnStaleAge(t *testing.T) {
	fc := &fakeClient{models: []upstream.ModelDescriptor{{ID: "gpt-4o"}}}
	c := New(t.TempDir(), fc)
	if _, err := c.Refresh(context.Background(), RefreshOptions{ProfileID: "p1", Source: SourceManual}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := c.EnsureFresh(context.Background(), "p1", "tok", 1); err != nil {
		t.Fatal(err)
	}
	if fc.listCalls.Load() != 2 {
		t.Fatalf("expected EnsureFresh to trigger a second refresh, got %d calls", fc.listCalls.Load())
	}
}

type boomErr string

func (e boomErr) Error() string { return string(e) }

var errBoom = boomErr("upstream unavailable")
