package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/copilot-gateway/gateway/internal/apierror"
	"github.com/copilot-gateway/gateway/internal/dispatcher"
)

// API holds the single collaborator every route needs. Kept as a plain
// struct rather than package-level state so multiple routers (e.g. one
// per test) never share a dispatcher by accident.
type API struct {
	Dispatcher *dispatcher.Dispatcher
}

// Root serves GET /: a liveness probe plus the endpoint map, schema-
// agnostic since it precedes any model-selection or credential concern.
func (a *API) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"endpoints": gin.H{
			"openai": []string{
				"GET /v1/models", "POST /v1/chat/completions", "POST /v1/completions",
			},
			"anthropic": []string{"POST /v1/messages"},
			"ollama": []string{
				"GET /api/tags", "GET /api/version", "GET /api/health",
				"POST /api/pull", "POST /api/chat", "POST /api/generate",
			},
		},
	})
}

func (a *API) ListModels(c *gin.Context) {
	res := a.Dispatcher.ListModels(c.Request.Context(), bearerToken(c))
	writeResult(c, res)
}

func (a *API) ChatCompletions(c *gin.Context) {
	raw, ok := readBody(c, apierror.SchemaOpenAI)
	if !ok {
		return
	}
	res, stream, err := a.Dispatcher.ChatCompletion(c.Request.Context(), raw, bearerToken(c))
	writeOutcome(c, res, stream, err, apierror.SchemaOpenAI)
}

func (a *API) Completions(c *gin.Context) {
	raw, ok := readBody(c, apierror.SchemaOpenAI)
	if !ok {
		return
	}
	res, stream, err := a.Dispatcher.LegacyCompletion(c.Request.Context(), raw, bearerToken(c))
	writeOutcome(c, res, stream, err, apierror.SchemaOpenAI)
}

func (a *API) Messages(c *gin.Context) {
	raw, ok := readBody(c, apierror.SchemaAnthropic)
	if !ok {
		return
	}
	res, err := a.Dispatcher.Messages(c.Request.Context(), raw, bearerToken(c))
	if err != nil {
		status, body := apierror.Build(apierror.KindServerError, err.Error(), apierror.SchemaAnthropic, nil)
		c.Data(status, "application/json", body)
		return
	}
	writeResult(c, res)
}

func (a *API) Tags(c *gin.Context) {
	writeResult(c, a.Dispatcher.Tags(c.Request.Context(), bearerToken(c)))
}

func (a *API) Version(c *gin.Context) {
	writeResult(c, a.Dispatcher.Version())
}

func (a *API) Health(c *gin.Context) {
	writeResult(c, a.Dispatcher.Health())
}

func (a *API) Pull(c *gin.Context) {
	raw, ok := readBody(c, apierror.SchemaOllama)
	if !ok {
		return
	}
	writeStream(c, a.Dispatcher.Pull(raw))
}

func (a *API) Chat(c *gin.Context) {
	raw, ok := readBody(c, apierror.SchemaOllama)
	if !ok {
		return
	}
	res, stream, err := a.Dispatcher.Chat(c.Request.Context(), raw, bearerToken(c))
	writeOutcome(c, res, stream, err, apierror.SchemaOllama)
}

func (a *API) Generate(c *gin.Context) {
	raw, ok := readBody(c, apierror.SchemaOllama)
	if !ok {
		return
	}
	res, stream, err := a.Dispatcher.Generate(c.Request.Context(), raw, bearerToken(c))
	writeOutcome(c, res, stream, err, apierror.SchemaOllama)
}

// bearerToken extracts the raw credential from "Authorization: Bearer
// <token>", or the header verbatim if it carries no Bearer prefix; the
// resolver classifies by prefix and ignores anything it doesn't recognize.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if after, found := strings.CutPrefix(h, "Bearer "); found {
		return after
	}
	return h
}

// readBody reads the raw request body. A body that exceeds the
// router's size cap, or that is simply absent, is reported as
// invalid_request in the caller's schema rather than a generic 500.
func readBody(c *gin.Context, schema apierror.Schema) ([]byte, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		status, body := apierror.Build(apierror.KindInvalidRequest, "failed to read request body: "+err.Error(), schema, nil)
		c.Data(status, "application/json", body)
		return nil, false
	}
	return raw, true
}

func writeOutcome(c *gin.Context, res *dispatcher.Result, stream *dispatcher.StreamResult, err error, schema apierror.Schema) {
	if err != nil {
		status, body := apierror.Build(apierror.KindServerError, err.Error(), schema, nil)
		c.Data(status, "application/json", body)
		return
	}
	if stream != nil {
		writeStream(c, stream)
		return
	}
	writeResult(c, res)
}

func writeResult(c *gin.Context, res *dispatcher.Result) {
	for k, v := range res.Headers {
		c.Header(k, v)
	}
	c.Data(res.Status, "application/json", res.Body)
}

// writeStream flushes headers immediately, then lets Pipe copy the
// translated stream straight to the response writer as it arrives
// rather than buffering the whole body first.
func writeStream(c *gin.Context, res *dispatcher.StreamResult) {
	for k, v := range res.Headers {
		c.Header(k, v)
	}
	c.Status(res.Status)
	c.Writer.Flush()
	if err := res.Pipe(c.Request.Context(), c.Writer); err != nil {
		return
	}
	if f, ok := c.Writer.(http.Flusher); ok {
		f.Flush()
	}
}
