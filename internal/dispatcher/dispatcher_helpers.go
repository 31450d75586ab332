package dispatcher

import (
	"context"
	"net/http"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/copilot-gateway/gateway/internal/config"
	"github.com/copilot-gateway/gateway/internal/protocol"
	"github.com/copilot-gateway/gateway/internal/transforms"
)

// lastMessageText extracts the text the command interpreter should look
// at: the last chat message's content for OpenAI/Ollama request shapes.
func lastMessageText(rawBody []byte) string {
	return protocol.LastUserText(gjson.GetBytes(rawBody, "messages"))
}

func modelOrDefault(rawBody []byte, def string) string {
	if m := gjson.GetBytes(rawBody, "model").String(); m != "" {
		return m
	}
	return def
}

func gjson0(rawBody []byte, field string) bool {
	return gjson.GetBytes(rawBody, field).Bool()
}

func setModel(payload []byte, model string) []byte {
	out, err := sjson.SetBytes(payload, "model", model)
	if err != nil {
		return payload
	}
	return out
}

func headerMapToHTTP(h map[string]string) http.Header {
	if len(h) == 0 {
		return nil
	}
	out := http.Header{}
	for k, v := range h {
		out.Set(k, v)
	}
	return out
}

// pipelineFor builds the transform Pipeline for one route from the live
// config snapshot's transforms.* keys, falling back to the transforms.yaml
// manifest's pipeline for that route when config.json names none. A
// config.json pipeline takes precedence: it is the override surface an
// operator reaches for with `::config set`, the manifest the bulk-authored
// baseline underneath it.
func pipelineFor(cfg *config.Config, manifest transforms.Manifest, route string) transforms.Pipeline {
	if names := cfg.Transforms.Pipelines[route]; len(names) > 0 {
		return transforms.Pipeline{Enabled: cfg.Transforms.Enabled, Names: names}
	}
	p := manifest.PipelineFor(route)
	if cfg.Transforms.Enabled {
		p.Enabled = true
	}
	return p
}

func runTransforms(ctx context.Context, reg *transforms.Registry, p transforms.Pipeline, payload []byte) ([]byte, map[string]string) {
	return transforms.Run(ctx, reg, p, payload, nil)
}

var tokenLikeField = regexp.MustCompile(`"(authorization|access_token|refresh_token|token)"\s*:\s*"[^"]*"`)

// redactTokens scrubs obvious credential-shaped JSON fields before a
// request body is logged at verbosity 3.
func redactTokens(raw []byte) string {
	return tokenLikeField.ReplaceAllString(string(raw), `"$1":"[redacted]"`)
}
