package dispatcher

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/copilot-gateway/gateway/internal/apierror"
	"github.com/copilot-gateway/gateway/internal/protocol/openai"
	"github.com/copilot-gateway/gateway/internal/upstream"
)

// ChatCompletion serves POST /v1/chat/completions. The non-streaming
// and streaming cases diverge only at response shaping; everything
// before that is shared.
func (d *Dispatcher) ChatCompletion(ctx context.Context, rawBody []byte, authHeader string) (*Result, *StreamResult, error) {
	requestID := uuid.New().String()
	logInbound("openai", requestID, rawBody, d.Config().Verbose)

	tok := d.resolveToken(ctx, authHeader)

	text := lastMessageText(rawBody)
	if resp, handled := d.runCommandIfTriggered(text, tok); handled {
		body := openai.RenderCommand(modelOrDefault(rawBody, d.Config().Model.Default), resp.Text, nowUnix())
		return &Result{Status: http.StatusOK, Body: body}, nil, nil
	}

	if tok == "" {
		model := modelOrDefault(rawBody, d.Config().Model.Default)
		if gjson0(rawBody, "stream") {
			chunks := openai.AnonymousStreamStub(model, nowUnix())
			return nil, &StreamResult{
				Status:  http.StatusOK,
				Headers: openai.StreamHeaders(),
				Pipe: func(ctx context.Context, w io.Writer) error {
					_, err := w.Write(chunks)
					return err
				},
			}, nil
		}
		body := openai.AnonymousStub(model, nowUnix())
		return &Result{Status: http.StatusOK, Body: body}, nil, nil
	}

	upstreamPayload, requestedModel, stream, err := openai.Normalize(rawBody)
	if err != nil {
		status, body := apierror.Build(apierror.KindInvalidRequest, err.Error(), apierror.SchemaOpenAI, nil)
		return &Result{Status: status, Body: body}, nil, nil
	}

	sel := d.selectModel(ctx, tok, requestedModel)
	upstreamPayload = setModel(upstreamPayload, sel.Model)

	pipeline := pipelineFor(d.Config(), d.Manifest(), "openai")
	var headers map[string]string
	upstreamPayload, headers = runTransforms(ctx, d.TransformReg, pipeline, upstreamPayload)

	resp, _, err := d.callUpstream(ctx, tok, upstreamPayload, headerMapToHTTP(headers))
	if err != nil {
		kind, upstreamBody, upstreamStatus := classifyUpstreamError(err)
		status, body := apierror.Build(kind, err.Error(), apierror.SchemaOpenAI, upstreamBody, upstreamStatus)
		return &Result{Status: status, Body: body}, nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := upstream.DecompressBody(resp)
		_ = resp.Body.Close()
		kind := apierror.KindUpstreamPermanent
		if resp.StatusCode == http.StatusUnauthorized {
			kind = apierror.KindUpstreamAuth
		}
		status, out := apierror.Build(kind, "upstream returned an error", apierror.SchemaOpenAI, body, resp.StatusCode)
		return &Result{Status: status, Body: out}, nil, nil
	}

	if stream {
		return nil, &StreamResult{
			Status:  http.StatusOK,
			Headers: openai.StreamHeaders(),
			Pipe: func(ctx context.Context, w io.Writer) error {
				defer func() { _ = resp.Body.Close() }()
				_, err := io.Copy(w, resp.Body)
				return err
			},
		}, nil
	}

	defer func() { _ = resp.Body.Close() }()
	body, err := upstream.DecompressBody(resp)
	if err != nil {
		status, out := apierror.Build(apierror.KindUpstreamPermanent, "could not decode upstream response", apierror.SchemaOpenAI, nil)
		return &Result{Status: status, Body: out}, nil, nil
	}
	body = openai.ShapeNonStream(body, requestedModel, requestID, nowUnix())
	return &Result{Status: http.StatusOK, Body: body}, nil, nil
}

// LegacyCompletion serves POST /v1/completions by converting to a chat
// request and reusing ChatCompletion's pipeline via FromLegacyCompletion.
func (d *Dispatcher) LegacyCompletion(ctx context.Context, rawBody []byte, authHeader string) (*Result, *StreamResult, error) {
	chatPayload, _, _, err := openai.FromLegacyCompletion(rawBody)
	if err != nil {
		status, body := apierror.Build(apierror.KindInvalidRequest, err.Error(), apierror.SchemaOpenAI, nil)
		return &Result{Status: status, Body: body}, nil, nil
	}
	return d.ChatCompletion(ctx, chatPayload, authHeader)
}

// ListModels serves GET /v1/models: the active profile's catalog entry
// rendered as an OpenAI model list, or 401 when no token is resolvable.
func (d *Dispatcher) ListModels(ctx context.Context, authHeader string) *Result {
	tok := d.resolveToken(ctx, authHeader)
	if tok == "" {
		status, body := apierror.Build(apierror.KindMissingCredentials, "no Copilot credential is configured", apierror.SchemaOpenAI, nil)
		return &Result{Status: status, Body: body}
	}

	profileID := d.activeProfileID()
	view, _ := d.Catalog.GetEntry(profileID)

	out := []byte(`{"object":"list","data":[]}`)
	now := nowUnix()
	for _, m := range view.Models {
		entry := []byte(`{}`)
		entry, _ = sjson.SetBytes(entry, "id", m)
		entry, _ = sjson.SetBytes(entry, "object", "model")
		entry, _ = sjson.SetBytes(entry, "created", now)
		entry, _ = sjson.SetBytes(entry, "owned_by", "github-copilot")
		out, _ = sjson.SetRawBytes(out, "data.-1", entry)
	}
	return &Result{Status: http.StatusOK, Body: out}
}

func logInbound(schema, requestID string, body []byte, verbose int) {
	if verbose >= 1 {
		log.Infof("dispatcher: [%s] inbound %s request (%d bytes)", requestID, schema, len(body))
	}
	if verbose >= 3 {
		if n, ok := estimateTokens(string(body)); ok {
			log.Debugf("dispatcher: [%s] inbound %s body (~%d tokens): %s", requestID, schema, n, redactTokens(body))
		} else {
			log.Debugf("dispatcher: [%s] inbound %s body: %s", requestID, schema, redactTokens(body))
		}
	}
}
