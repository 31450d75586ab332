// Package dispatcher implements the per-request lifecycle: command
// interception, credential resolution, protocol normalization,
// model selection, the transform pipeline, the upstream call with
// refresh-on-401, and response shaping. Grounded on CLIProxyAPI's
// executor-as-orchestrator pattern in
// internal/runtime/executor/copilot_executor.go, generalized from a
// single-provider executor into a schema-agnostic dispatch core shared by
// the OpenAI, Anthropic, and Ollama routes.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/copilot-gateway/gateway/internal/apierror"
	"github.com/copilot-gateway/gateway/internal/catalog"
	"github.com/copilot-gateway/gateway/internal/command"
	"github.com/copilot-gateway/gateway/internal/config"
	"github.com/copilot-gateway/gateway/internal/profile"
	"github.com/copilot-gateway/gateway/internal/protocol"
	"github.com/copilot-gateway/gateway/internal/resolver"
	"github.com/copilot-gateway/gateway/internal/selector"
	"github.com/copilot-gateway/gateway/internal/transforms"
	"github.com/copilot-gateway/gateway/internal/upstream"
)

// UpstreamClient is the subset of *upstream.Client the dispatcher calls.
type UpstreamClient interface {
	PostChatCompletion(ctx context.Context, token string, payload []byte, extraHeaders http.Header) (*http.Response, error)
}

// Dispatcher wires the request-lifecycle collaborators together. All
// fields are explicit, constructor-injected collaborators rather than
// package-level globals.
type Dispatcher struct {
	Resolver     *resolver.Resolver
	Catalog      *catalog.Catalog
	Upstream     UpstreamClient
	Profiles     *profile.Store
	Mapper       *selector.MappingOverrides
	TransformReg *transforms.Registry
	Config       func() *config.Config
	// Manifest reads the live transforms.yaml manifest, hot-reloaded by
	// the same config.Watcher that reloads config.json. Routes fall back
	// to the manifest's per-route pipeline when config.json's
	// transforms.pipelines has no entry for that route.
	Manifest func() transforms.Manifest
	// ConfigDir is where config.json lives; configAccessor.Set persists
	// `::config set` edits here and relies on the config.Watcher to pick
	// the change back up, the same round trip an operator hand-editing
	// the file gets.
	ConfigDir string
}

// Result is a fully-resolved, non-streaming dispatcher outcome.
type Result struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// StreamResult is a streaming dispatcher outcome: headers to send
// immediately, then Pipe to copy the streamed body to the caller's writer.
type StreamResult struct {
	Status  int
	Headers map[string]string
	Pipe    func(ctx context.Context, w io.Writer) error
}

type catalogAdapter struct {
	c     *catalog.Catalog
	token string
}

func (a catalogAdapter) Models(profileID string) ([]string, bool) {
	v, ok := a.c.GetEntry(profileID)
	if !ok {
		return nil, false
	}
	return v.Models, true
}

func (a catalogAdapter) Refresh(ctx context.Context, profileID string) ([]string, error) {
	e, err := a.c.Refresh(ctx, catalog.RefreshOptions{ProfileID: profileID, Token: a.token, Verify: false, Source: catalog.SourceManual})
	if err != nil {
		return nil, err
	}
	return e.Models, nil
}

func (d *Dispatcher) activeProfileID() string {
	if d.Profiles == nil {
		return ""
	}
	id, ok, err := d.Profiles.GetActive()
	if err != nil || !ok {
		return ""
	}
	return id
}

// resolveToken tries every non-refresh source first, then allows one
// refresh attempt.
func (d *Dispatcher) resolveToken(ctx context.Context, authHeader string) string {
	tok, _ := d.Resolver.Resolve(ctx, resolver.Options{HeaderToken: authHeader})
	if tok != "" {
		return tok
	}
	tok, _ = d.Resolver.Resolve(ctx, resolver.Options{HeaderToken: authHeader, RefreshIfMissing: true})
	return tok
}

func (d *Dispatcher) selectModel(ctx context.Context, tok, requested string) selector.Result {
	cfg := d.Config()
	reader := catalogAdapter{c: d.Catalog, token: tok}
	profileID := ""
	if tok != "" {
		profileID = d.activeProfileID()
	}
	r := selector.Select(ctx, reader, tok != "", profileID, requested, cfg.Model.Default)
	if r.Fallback {
		log.Infof("dispatcher: model fallback requested=%q selected=%q source=%s", requested, r.Model, r.Source)
	}
	return r
}

// commandContext builds a command.Request for command interception,
// sharing the mapper/catalog/config collaborators with normal dispatch.
func (d *Dispatcher) commandContext(text string, tok string) command.Request {
	cfg := d.Config()
	profileID := ""
	if tok != "" {
		profileID = d.activeProfileID()
	}
	return command.Request{
		Text:         text,
		Triggers:     cfg.CmdTriggers,
		HasToken:     tok != "",
		ProfileID:    profileID,
		DefaultModel: cfg.Model.Default,
		Catalog:      catalogAdapter{c: d.Catalog, token: tok},
		Mapper:       d.Mapper,
		Config:       configAccessor{cfg: cfg, dir: d.ConfigDir},
	}
}

// configAccessor adapts *config.Config to command.ConfigAccessor. Set
// mutates a copy of the snapshot and writes it back via config.Save; the
// config.Watcher picks the change back up from disk the same way it would
// an operator's hand edit, so this process's own Config() call keeps
// returning whatever the watcher last loaded rather than this accessor's
// in-memory copy.
type configAccessor struct {
	cfg *config.Config
	dir string
}

func (a configAccessor) Snapshot() map[string]string {
	return map[string]string{
		"model.default":                  a.cfg.Model.Default,
		"model.refresh_interval_minutes": strconv.Itoa(a.cfg.Model.RefreshIntervalMinutes),
		"catalog.ttl_minutes":            strconv.Itoa(a.cfg.Catalog.TTLMinutes),
		"catalog.stale_minutes":          strconv.Itoa(a.cfg.Catalog.StaleMinutes),
		"transforms.enabled":             strconv.FormatBool(a.cfg.Transforms.Enabled),
	}
}

func (a configAccessor) Get(key string) (string, bool) {
	v, ok := a.Snapshot()[key]
	return v, ok
}

// Set validates key against an explicit allow-list and persists the
// new value to config.json.
func (a configAccessor) Set(key, value string) error {
	next := *a.cfg
	switch key {
	case "model.default":
		next.Model.Default = value
	case "model.refresh_interval_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		next.Model.RefreshIntervalMinutes = n
	case "catalog.ttl_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		next.Catalog.TTLMinutes = n
	case "catalog.stale_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		next.Catalog.StaleMinutes = n
	case "transforms.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false: %w", key, err)
		}
		next.Transforms.Enabled = b
	default:
		return fmt.Errorf("unknown configuration key %q", key)
	}
	if a.dir == "" {
		return fmt.Errorf("no configuration directory wired; cannot persist %s", key)
	}
	return config.Save(a.dir, &next)
}

// runCommandIfTriggered intercepts a command and renders it in the
// requesting schema's outbound shape. ok is false when no command fired.
func (d *Dispatcher) runCommandIfTriggered(text, tok string) (command.Response, bool) {
	return command.Interpret(d.commandContext(text, tok))
}

// callUpstream performs the upstream call with a single refresh-and-retry
// on 401.
func (d *Dispatcher) callUpstream(ctx context.Context, tok string, payload []byte, headers http.Header) (*http.Response, string, error) {
	resp, err := d.Upstream.PostChatCompletion(ctx, tok, payload, headers)
	if err != nil {
		return nil, tok, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, tok, nil
	}

	original, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	newTok, refreshErr := d.Resolver.Refresh(ctx)
	if refreshErr != nil || newTok == "" || newTok == tok {
		// Refresh yielded nothing new: surface the original 401 as-is
		// rather than spending a second round trip that would reproduce it.
		resp.Body = io.NopCloser(bytes.NewReader(original))
		return resp, tok, nil
	}

	resp2, err2 := d.Upstream.PostChatCompletion(ctx, newTok, payload, headers)
	return resp2, newTok, err2
}

func nowUnix() int64 { return time.Now().Unix() }

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

// classifyUpstreamError maps an upstream.Client error into an apierror Kind,
// its raw body for pass-through, and the real upstream status (0 when none
// applies, e.g. a transport-level failure with no upstream response).
func classifyUpstreamError(err error) (apierror.Kind, []byte, int) {
	if ue, ok := err.(*upstream.UpstreamError); ok {
		return apierror.KindUpstreamPermanent, ue.Body, ue.Status
	}
	if err == upstream.ErrCancelled {
		return apierror.KindInvalidRequest, nil, 0
	}
	return apierror.KindUpstreamTransient, nil, 0
}
