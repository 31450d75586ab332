package transforms

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ModelRouterRules configures the model-router built-in: a static
// exact-match map consulted first, then ordered prefix rules.
type ModelRouterRules struct {
	Static      map[string]string
	PrefixRules []PrefixRule
}

// PrefixRule rewrites payload.model to To when it has the given Prefix
// (case-insensitive).
type PrefixRule struct {
	Prefix string
	To     string
}

// ModelRouter builds the "model-router" module: a static map + prefix-rule
// rewrite of payload.model, run in-place via sjson the way CLIProxyAPI's
// translators rewrite single fields rather than round-tripping through a
// Go struct.
func ModelRouter(rules *ModelRouterRules) Module {
	return func(_ context.Context, payload []byte, headers map[string]string) ([]byte, map[string]string, error) {
		if rules == nil {
			return payload, headers, nil
		}
		model := gjson.GetBytes(payload, "model").String()
		if model == "" {
			return payload, headers, nil
		}
		lower := strings.ToLower(model)

		if to, ok := rules.Static[lower]; ok {
			out, err := sjson.SetBytes(payload, "model", to)
			return out, headers, err
		}
		for _, rule := range rules.PrefixRules {
			if strings.HasPrefix(lower, strings.ToLower(rule.Prefix)) {
				out, err := sjson.SetBytes(payload, "model", rule.To)
				return out, headers, err
			}
		}
		return payload, headers, nil
	}
}
