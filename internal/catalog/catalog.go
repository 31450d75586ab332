// Package catalog implements the per-profile Model Catalog:
// discovery + optional verification of the working subset of upstream
// models, TTL/stale semantics, single-flight refresh per profile, and
// on-disk persistence. Grounded on CLIProxyAPI's sharedModelCache /
// sharedModelCacheTTL fields in
// internal/runtime/executor/copilot_executor.go (a per-process cached
// model list with a TTL), generalized into a full per-profile entry with
// verification and scheduled refresh.
package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/copilot-gateway/gateway/internal/upstream"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const schemaVersion = 1

// Status values for an Entry.
const (
	StatusReady = "ready"
	StatusError = "error"
	StatusStale = "stale"
)

// Source values recording which refresh path last wrote an entry.
const (
	SourceManual    = "manual"
	SourceScheduled = "scheduled"
)

// Stats summarizes a refresh's outcome.
type Stats struct {
	Total      int   `json:"total"`
	Working    int   `json:"working"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"duration_ms"`
	Validated  bool  `json:"validated"`
}

// Entry is the persisted, per-profile catalog state.
type Entry struct {
	ProfileID     string                     `json:"profile_id"`
	UpdatedAt     int64                      `json:"updated_at"`
	LastAttemptAt int64                      `json:"last_attempt_at"`
	TTLMs         int64                      `json:"ttl_ms"`
	Models        []string                   `json:"models"`
	RawModels     []upstream.ModelDescriptor `json:"raw_models"`
	Status        string                     `json:"status"`
	Source        string                     `json:"source"`
	Stats         Stats                      `json:"stats"`
	FailedModels  []string                   `json:"failed_models,omitempty"`
	Error         string                     `json:"error,omitempty"`
}

// View is an Entry plus derived, read-time status fields.
type View struct {
	Entry
	AgeMs           int64  `json:"age_ms"`
	ExpiresAt       int64  `json:"expires_at"`
	EffectiveStatus string `json:"effective_status"`
}

func deriveView(e Entry, now int64) View {
	v := View{Entry: e}
	v.AgeMs = now - e.UpdatedAt
	v.ExpiresAt = e.UpdatedAt + e.TTLMs
	switch {
	case e.Status == StatusError:
		v.EffectiveStatus = StatusError
	case now > v.ExpiresAt:
		v.EffectiveStatus = StatusStale
	default:
		v.EffectiveStatus = StatusReady
	}
	return v
}

type storedFile struct {
	Version   int              `json:"version"`
	UpdatedAt int64            `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
}

// ModelVerifier is the subset of the upstream client a Catalog needs.
type ModelVerifier interface {
	ListModels(ctx context.Context, token string) ([]upstream.ModelDescriptor, error)
	VerifyModel(ctx context.Context, token, modelID string) bool
}

// Catalog maintains the in-memory and on-disk per-profile model views.
type Catalog struct {
	dir    string
	client ModelVerifier

	mu      sync.RWMutex
	entries map[string]Entry

	sf singleflight.Group
}

// New constructs a Catalog persisting to dir/model-catalog.json, loading
// any existing state immediately. A malformed file resets to empty
// in-memory state without being fatal.
func New(dir string, client ModelVerifier) *Catalog {
	c := &Catalog{dir: dir, client: client, entries: map[string]Entry{}}
	c.load()
	return c
}

func (c *Catalog) filePath() string { return filepath.Join(c.dir, "model-catalog.json") }

func (c *Catalog) load() {
	raw, err := os.ReadFile(c.filePath())
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.Warnf("catalog: cannot read %s: %v", c.filePath(), err)
		return
	}
	var sf storedFile
	if err := json.Unmarshal(raw, &sf); err != nil || sf.Version != schemaVersion {
		log.Warnf("catalog: %s is malformed or unversioned, starting empty", c.filePath())
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = sf.Entries
	if c.entries == nil {
		c.entries = map[string]Entry{}
	}
}

func (c *Catalog) persistLocked() {
	sf := storedFile{Version: schemaVersion, UpdatedAt: time.Now().UnixMilli(), Entries: c.entries}
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		log.Warnf("catalog: marshal failed: %v", err)
		return
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		log.Warnf("catalog: mkdir failed: %v", err)
		return
	}
	if err := os.WriteFile(c.filePath(), raw, 0o600); err != nil {
		log.Warnf("catalog: write failed: %v", err)
	}
}

// GetEntry returns the materialized view for profileID, including
// derived status/age/expiry. Repeated calls without an intervening
// Refresh/Clear return the same Models/RawModels (testable property 4).
func (c *Catalog) GetEntry(profileID string) (View, bool) {
	c.mu.RLock()
	e, ok := c.entries[profileID]
	c.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	return deriveView(e, time.Now().UnixMilli()), true
}

// RefreshOptions configures Refresh.
type RefreshOptions struct {
	ProfileID   string
	Token       string
	Verify      bool
	Source      string
	TTLMs       int64 // 0 uses a one-hour default
	Concurrency int   // 0 uses 3
}

const defaultTTLMs = 60 * 60 * 1000

// Refresh fully recomputes the catalog entry for opts.ProfileID.
// Concurrent refreshes for the same profile id collapse into one
// in-flight call (testable property 3): all callers observe the same
// resulting Entry or error.
func (c *Catalog) Refresh(ctx context.Context, opts RefreshOptions) (Entry, error) {
	v, err, _ := c.sf.Do(opts.ProfileID, func() (any, error) {
		return c.doRefresh(ctx, opts)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

func (c *Catalog) doRefresh(ctx context.Context, opts RefreshOptions) (Entry, error) {
	start := time.Now()
	ttl := opts.TTLMs
	if ttl == 0 {
		ttl = defaultTTLMs
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	now := time.Now().UnixMilli()
	descriptors, err := c.client.ListModels(ctx, opts.Token)
	if err != nil {
		entry := Entry{
			ProfileID:     opts.ProfileID,
			LastAttemptAt: now,
			TTLMs:         ttl,
			Status:        StatusError,
			Source:        opts.Source,
			Error:         err.Error(),
		}
		c.store(entry)
		return entry, nil
	}

	ids := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		ids = append(ids, d.ID)
	}

	var working, failed []string
	validated := false

	if !opts.Verify || len(ids) == 0 {
		working = ids
	} else {
		validated = true
		working, failed, err = c.verifyAll(ctx, opts.Token, ids, concurrency)
		if err != nil {
			entry := Entry{
				ProfileID:     opts.ProfileID,
				LastAttemptAt: now,
				TTLMs:         ttl,
				Status:        StatusError,
				Source:        opts.Source,
				Error:         err.Error(),
			}
			c.store(entry)
			return entry, nil
		}
	}

	entry := Entry{
		ProfileID:     opts.ProfileID,
		UpdatedAt:     now,
		LastAttemptAt: now,
		TTLMs:         ttl,
		Models:        working,
		RawModels:     descriptors,
		Status:        StatusReady,
		Source:        opts.Source,
		Stats: Stats{
			Total:      len(ids),
			Working:    len(working),
			Failed:     len(failed),
			DurationMs: time.Since(start).Milliseconds(),
			Validated:  validated,
		},
	}
	if validated {
		entry.FailedModels = failed
	}
	c.store(entry)
	return entry, nil
}

// verifyAll validates each id with at most concurrency in-flight
// VerifyModel calls. A context cancellation between items aborts the
// batch with an error.
func (c *Catalog) verifyAll(ctx context.Context, tok string, ids []string, concurrency int) ([]string, []string, error) {
	if concurrency > len(ids) {
		concurrency = len(ids)
	}
	sem := make(chan struct{}, concurrency)
	var mu sync.Mutex
	var working, failed []string
	var wg sync.WaitGroup

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, nil, err
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			ok := c.client.VerifyModel(ctx, tok, id)
			mu.Lock()
			if ok {
				working = append(working, id)
			} else {
				failed = append(failed, id)
			}
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return working, failed, nil
}

func (c *Catalog) store(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.ProfileID] = e
	c.persistLocked()
}

// EnsureFresh returns the existing entry unless it is absent, errored,
// or older than staleAfterMs, in which case it triggers a Refresh.
func (c *Catalog) EnsureFresh(ctx context.Context, profileID, tok string, staleAfterMs int64) (Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[profileID]
	c.mu.RUnlock()

	now := time.Now().UnixMilli()
	needsRefresh := !ok || e.Status == StatusError || (now-e.UpdatedAt) > staleAfterMs
	if !needsRefresh {
		return e, nil
	}
	return c.Refresh(ctx, RefreshOptions{ProfileID: profileID, Token: tok, Verify: false, Source: SourceScheduled})
}

// Clear evicts profileID's entry, or every entry if profileID is empty.
func (c *Catalog) Clear(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if profileID == "" {
		c.entries = map[string]Entry{}
	} else {
		delete(c.entries, profileID)
	}
	c.persistLocked()
}
