package dispatcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/copilot-gateway/gateway/internal/apierror"
	"github.com/copilot-gateway/gateway/internal/catalog"
	"github.com/copilot-gateway/gateway/internal/protocol/ollama"
	"github.com/copilot-gateway/gateway/internal/upstream"
)

// ollamaText extracts the command-detection text for /api/chat (last
// message) or /api/generate ("prompt").
func ollamaText(kind string, rawBody []byte) string {
	if kind == "generate" {
		return gjson.GetBytes(rawBody, "prompt").String()
	}
	return lastMessageText(rawBody)
}

// Chat serves POST /api/chat; Generate serves POST /api/generate. Both
// funnel into ollamaDispatch, which differs only in how it normalizes the
// inbound body and how it labels the outbound chunk shape.
func (d *Dispatcher) Chat(ctx context.Context, rawBody []byte, authHeader string) (*Result, *StreamResult, error) {
	return d.ollamaDispatch(ctx, "chat", rawBody, authHeader)
}

func (d *Dispatcher) Generate(ctx context.Context, rawBody []byte, authHeader string) (*Result, *StreamResult, error) {
	return d.ollamaDispatch(ctx, "generate", rawBody, authHeader)
}

func (d *Dispatcher) ollamaDispatch(ctx context.Context, kind string, rawBody []byte, authHeader string) (*Result, *StreamResult, error) {
	requestID := uuid.New().String()
	logInbound("ollama", requestID, rawBody, d.Config().Verbose)

	tok := d.resolveToken(ctx, authHeader)
	model := modelOrDefault(rawBody, d.Config().Model.Default)

	if resp, handled := d.runCommandIfTriggered(ollamaText(kind, rawBody), tok); handled {
		body := ollama.RenderCommand(kind, model, resp.Text, nowRFC3339())
		return &Result{Status: http.StatusOK, Body: body}, nil, nil
	}

	if tok == "" {
		body := ollama.AnonymousStub(kind, model, nowRFC3339())
		return &Result{Status: http.StatusOK, Body: body}, nil, nil
	}

	var upstreamPayload []byte
	var stream bool
	var err error
	if kind == "generate" {
		upstreamPayload, stream, err = ollama.NormalizeGenerate(rawBody)
	} else {
		upstreamPayload, stream, err = ollama.NormalizeChat(rawBody)
	}
	if err != nil {
		status, body := apierror.Build(apierror.KindInvalidRequest, err.Error(), apierror.SchemaOllama, nil)
		return &Result{Status: status, Body: body}, nil, nil
	}

	requestedModel := gjson.GetBytes(upstreamPayload, "model").String()
	sel := d.selectModel(ctx, tok, requestedModel)
	upstreamPayload = setModel(upstreamPayload, sel.Model)

	pipeline := pipelineFor(d.Config(), d.Manifest(), "ollama")
	var headers map[string]string
	upstreamPayload, headers = runTransforms(ctx, d.TransformReg, pipeline, upstreamPayload)

	started := time.Now()
	resp, _, err := d.callUpstream(ctx, tok, upstreamPayload, headerMapToHTTP(headers))
	if err != nil {
		kindErr, upstreamBody, upstreamStatus := classifyUpstreamError(err)
		status, body := apierror.Build(kindErr, err.Error(), apierror.SchemaOllama, upstreamBody, upstreamStatus)
		return &Result{Status: status, Body: body}, nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := upstream.DecompressBody(resp)
		_ = resp.Body.Close()
		errKind := apierror.KindUpstreamPermanent
		if resp.StatusCode == http.StatusUnauthorized {
			errKind = apierror.KindUpstreamAuth
		}
		status, out := apierror.Build(errKind, "upstream returned an error", apierror.SchemaOllama, body, resp.StatusCode)
		return &Result{Status: status, Body: out}, nil, nil
	}

	if stream {
		return nil, &StreamResult{
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": "application/x-ndjson"},
			Pipe: func(ctx context.Context, w io.Writer) error {
				defer func() { _ = resp.Body.Close() }()
				return ollama.TranslateSSE(resp.Body, w, kind, sel.Model, started, nowRFC3339)
			},
		}, nil
	}

	defer func() { _ = resp.Body.Close() }()
	body, err := upstream.DecompressBody(resp)
	if err != nil {
		status, out := apierror.Build(apierror.KindUpstreamPermanent, "could not decode upstream response", apierror.SchemaOllama, nil)
		return &Result{Status: status, Body: out}, nil, nil
	}

	var shaped []byte
	if kind == "generate" {
		shaped = ollama.ShapeGenerateNonStream(body, sel.Model, nowRFC3339())
	} else {
		shaped = ollama.ShapeChatNonStream(body, sel.Model, nowRFC3339())
	}
	return &Result{Status: http.StatusOK, Body: shaped}, nil, nil
}

// Tags serves GET /api/tags: the active profile's catalog translated to
// Ollama's models[] shape. A stale entry returns what is cached while a
// background refresh runs, rather than blocking the request.
func (d *Dispatcher) Tags(ctx context.Context, authHeader string) *Result {
	tok := d.resolveToken(ctx, authHeader)
	profileID := d.activeProfileID()

	view, ok := d.Catalog.GetEntry(profileID)
	models := []string{}
	if ok {
		models = view.Models
	}
	if tok != "" && profileID != "" && (!ok || view.EffectiveStatus != catalog.StatusReady) {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			opts := catalog.RefreshOptions{ProfileID: profileID, Token: tok, Verify: false, Source: catalog.SourceScheduled}
			if _, err := d.Catalog.Refresh(bgCtx, opts); err != nil {
				log.Warnf("dispatcher: background catalog refresh for %s failed: %v", profileID, err)
			}
		}()
	}
	return &Result{Status: http.StatusOK, Body: ollama.TagsResponse(models)}
}

// Version serves GET /api/version.
func (d *Dispatcher) Version() *Result {
	return &Result{Status: http.StatusOK, Body: ollama.VersionResponse()}
}

// Health serves GET /api/health.
func (d *Dispatcher) Health() *Result {
	return &Result{Status: http.StatusOK, Body: ollama.HealthResponse()}
}

// Pull serves POST /api/pull with the fixed three-event NDJSON sequence.
func (d *Dispatcher) Pull(rawBody []byte) *StreamResult {
	model := gjson.GetBytes(rawBody, "model").String()
	events := ollama.PullEvents(model)
	return &StreamResult{
		Status:  http.StatusOK,
		Headers: map[string]string{"Content-Type": "application/x-ndjson"},
		Pipe: func(ctx context.Context, w io.Writer) error {
			for _, e := range events {
				if _, err := w.Write(append(bytes.TrimSpace(e), '\n')); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
