package dispatcher

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/copilot-gateway/gateway/internal/apierror"
	"github.com/copilot-gateway/gateway/internal/protocol/anthropic"
	"github.com/copilot-gateway/gateway/internal/upstream"
)

// Messages serves POST /v1/messages. Streaming is never offered on this
// route: anthropic.Normalize rejects a streaming request before any
// upstream call is attempted.
func (d *Dispatcher) Messages(ctx context.Context, rawBody []byte, authHeader string) (*Result, error) {
	requestID := uuid.New().String()
	logInbound("anthropic", requestID, rawBody, d.Config().Verbose)

	tok := d.resolveToken(ctx, authHeader)
	requestedModel := gjson.GetBytes(rawBody, "model").String()

	text := anthropicCommandText(rawBody)
	if resp, handled := d.runCommandIfTriggered(text, tok); handled {
		model := requestedModel
		if model == "" {
			model = d.Config().Model.Default
		}
		return &Result{Status: http.StatusOK, Body: anthropic.RenderCommand(model, resp.Text)}, nil
	}

	if tok == "" {
		model := requestedModel
		if model == "" {
			model = d.Config().Model.Default
		}
		return &Result{Status: http.StatusOK, Body: anthropic.AnonymousStub(model)}, nil
	}

	cfg := d.Config()
	resolve := func(anthropicModel string) string {
		mapped := d.Mapper.Resolve(anthropicModel, cfg.Model.Default)
		return d.selectModel(ctx, tok, mapped).Model
	}

	upstreamPayload, requestedAnthropicModel, err := anthropic.Normalize(rawBody, resolve)
	if err != nil {
		status, body := apierror.Build(apierror.KindInvalidRequest, err.Error(), apierror.SchemaAnthropic, nil)
		return &Result{Status: status, Body: body}, nil
	}

	pipeline := pipelineFor(cfg, d.Manifest(), "anthropic")
	var headers map[string]string
	upstreamPayload, headers = runTransforms(ctx, d.TransformReg, pipeline, upstreamPayload)

	resp, _, err := d.callUpstream(ctx, tok, upstreamPayload, headerMapToHTTP(headers))
	if err != nil {
		kind, upstreamBody, upstreamStatus := classifyUpstreamError(err)
		status, body := apierror.Build(kind, err.Error(), apierror.SchemaAnthropic, upstreamBody, upstreamStatus)
		return &Result{Status: status, Body: body}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := upstream.DecompressBody(resp)
		kind := apierror.KindUpstreamPermanent
		if resp.StatusCode == http.StatusUnauthorized {
			kind = apierror.KindUpstreamAuth
		}
		status, out := apierror.Build(kind, "upstream returned an error", apierror.SchemaAnthropic, body, resp.StatusCode)
		return &Result{Status: status, Body: out}, nil
	}

	body, err := upstream.DecompressBody(resp)
	if err != nil {
		status, out := apierror.Build(apierror.KindUpstreamPermanent, "could not decode upstream response", apierror.SchemaAnthropic, nil)
		return &Result{Status: status, Body: out}, nil
	}

	return &Result{Status: http.StatusOK, Body: anthropic.ShapeResponse(body, requestedAnthropicModel, requestID)}, nil
}

// anthropicCommandText mirrors the Anthropic promotion rule (messages,
// else prompt, else input) for command detection only; it never rejects
// an empty body the way anthropic.Normalize does, since an unrecognized
// command still needs somewhere to fail gracefully later in Normalize.
func anthropicCommandText(rawBody []byte) string {
	if t := lastMessageText(rawBody); t != "" {
		return t
	}
	if p := gjson.GetBytes(rawBody, "prompt").String(); p != "" {
		return p
	}
	return gjson.GetBytes(rawBody, "input").String()
}
