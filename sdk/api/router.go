// Package api wires the dispatcher to the inbound HTTP surface: route
// registration, CORS, the ~50MB body-size ceiling, and translating
// *gin.Context into the dispatcher's Result/StreamResult outcomes.
// Grounded on CLIProxyAPI's sdk/api/handlers package boundary (a thin
// *gin.Context-facing layer in front of provider-agnostic execution),
// thinned down since internal/dispatcher already owns the full
// per-request lifecycle that BaseAPIHandler's executor plumbing exists
// to drive there.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/copilot-gateway/gateway/internal/dispatcher"
)

// maxBodyBytes is the documented inbound body ceiling (~50MB).
const maxBodyBytes = 50 << 20

// NewRouter builds the gin engine for d: CORS-permissive, body-size
// capped, with one route per documented endpoint.
func NewRouter(d *dispatcher.Dispatcher) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(corsMiddleware())

	h := &API{Dispatcher: d}

	r.GET("/", h.Root)
	r.GET("/v1/models", h.ListModels)
	r.POST("/v1/chat/completions", h.ChatCompletions)
	r.POST("/v1/completions", h.Completions)
	r.POST("/v1/messages", h.Messages)
	r.GET("/api/tags", h.Tags)
	r.GET("/api/version", h.Version)
	r.GET("/api/health", h.Health)
	r.POST("/api/pull", h.Pull)
	r.POST("/api/chat", h.Chat)
	r.POST("/api/generate", h.Generate)

	return r
}

// corsMiddleware matches the documented CORS policy: any origin, the
// three verbs the routes above actually use, and the two headers clients
// send (Authorization for credentials, Content-Type for the JSON body).
func corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
	}
	return cors.New(cfg)
}

// limitBody caps the inbound body so a single oversized request can't
// exhaust memory; http.MaxBytesReader surfaces the overrun as a read
// error that readBody in each handler then reports as invalid_request.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
