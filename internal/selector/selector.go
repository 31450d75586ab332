// Package selector implements the Model Selector: given a requested and
// configured default model plus a profile-bound catalog view, chooses
// the upstream model id and reports the fallback reason.
// Grounded on CLIProxyAPI's prefix-alias idiom in internal/registry
// (GenerateIFlowAliases, GenerateKimiAliases, CodexModelPrefix), reused
// here for the Anthropic name -> Copilot id mapping rules.
package selector

import (
	"context"
	"strings"
)

// Source values reported on a Result.
const (
	SourceRequested  = "requested"
	SourceDefault    = "default"
	SourceCatalog    = "catalog"
	SourceConfigured = "configured"
)

// Result is the selector's decision.
type Result struct {
	Model     string
	Fallback  bool
	Source    string
	Refreshed bool
}

// CatalogReader is the narrow view of the Model Catalog the selector
// needs, decoupled from the concrete catalog package to avoid an import
// cycle and keep this package independently testable.
type CatalogReader interface {
	// Models returns the profile's current working model list in
	// upstream order, and whether any entry exists at all.
	Models(profileID string) ([]string, bool)
	// Refresh triggers a manual, unverified catalog refresh and returns
	// the resulting model list.
	Refresh(ctx context.Context, profileID string) ([]string, error)
}

// Select runs the five-step requested-model-to-upstream-id algorithm.
func Select(ctx context.Context, reader CatalogReader, hasToken bool, profileID, requested, defaultModel string) Result {
	requested = strings.TrimSpace(requested)

	if !hasToken || profileID == "" {
		return passthrough(requested, defaultModel, false)
	}

	models, haveEntry := reader.Models(profileID)
	if haveEntry {
		if r, ok := matchAgainstCatalog(models, requested, defaultModel); ok {
			return r
		}
	}

	refreshed, err := reader.Refresh(ctx, profileID)
	if err != nil {
		return passthrough(requested, defaultModel, false)
	}
	if r, ok := matchAgainstCatalog(refreshed, requested, defaultModel); ok {
		r.Refreshed = true
		return r
	}
	result := passthrough(requested, defaultModel, false)
	result.Refreshed = true
	return result
}

// matchAgainstCatalog runs steps 2-4 of the algorithm against a given
// model list. ok is false only when the list is empty (step 5 applies).
func matchAgainstCatalog(models []string, requested, defaultModel string) (Result, bool) {
	if requested != "" {
		if canonical, found := findCaseInsensitive(models, requested); found {
			return Result{Model: canonical, Fallback: false, Source: SourceRequested}, true
		}
	}
	if canonical, found := findCaseInsensitive(models, defaultModel); found {
		return Result{Model: canonical, Fallback: requested != "", Source: SourceDefault}, true
	}
	if len(models) > 0 {
		return Result{Model: models[0], Fallback: true, Source: SourceCatalog}, true
	}
	return Result{}, false
}

func findCaseInsensitive(models []string, want string) (string, bool) {
	if want == "" {
		return "", false
	}
	for _, m := range models {
		if strings.EqualFold(m, want) {
			return m, true
		}
	}
	return "", false
}

// passthrough is step 1's pure config behavior: no token/profile, or a
// failed refresh attempt at step 5.
func passthrough(requested, defaultModel string, refreshed bool) Result {
	model := defaultModel
	if requested != "" {
		model = requested
	}
	return Result{
		Model:     model,
		Fallback:  requested != "" && !strings.EqualFold(requested, defaultModel),
		Source:    SourceConfigured,
		Refreshed: refreshed,
	}
}
