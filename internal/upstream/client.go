// Package upstream implements the single shared outbound connection to
// the GitHub Copilot chat completion service: uniform headers,
// retry/backoff, timeouts, cancellation, and a streaming pass-through
// reader. Grounded on
// internal/runtime/executor/copilot_executor.go (header injection,
// per-token caching) and internal/runtime/executor/proxy_helpers.go
// (proxy-aware client cache, NO_PROXY handling).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const (
	defaultBaseURL   = "https://api.githubcopilot.com"
	modelsPath       = "/models"
	chatPath         = "/chat/completions"
	defaultTimeout   = 15 * time.Second
	verifyTimeout    = 6 * time.Second
	defaultMaxRetry  = 2
	backoffUnit      = 250 * time.Millisecond
	backoffCeiling   = 1500 * time.Millisecond
)

// Fixed outbound headers sent on every upstream request.
const (
	headerUserAgent       = "copilot-cli/1.0"
	headerEditorVersion   = "vscode/1.85.0"
	headerEditorPlugin    = "copilot-chat/0.11.0"
	headerOpenAIOrg       = "github-copilot"
)

// ErrCancelled is returned when the caller's context/signal was tripped
// and the client deliberately did not retry.
var ErrCancelled = errors.New("upstream: request cancelled by caller")

// UpstreamError represents a non-2xx upstream response that survived
// retries.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Status, truncate(e.Body, 500))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}

// ModelDescriptor is a single entry from GET /models.
type ModelDescriptor struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// Client is the single outbound connection to the upstream base URL. It
// owns no per-request mutable state and is safe for concurrent use.
type Client struct {
	baseURL    string
	maxRetries int

	clientsMu sync.RWMutex
	clients   map[string]*http.Client // keyed by proxy URL ("" = direct)

	proxyURL string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the default Copilot base URL (for tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithProxyURL routes outbound requests through the given proxy
// (http(s):// or socks5://), matching proxy_helpers.go's proxy-aware
// client selection.
func WithProxyURL(p string) Option {
	return func(c *Client) { c.proxyURL = p }
}

// WithMaxRetries overrides the default retry budget (2).
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient constructs a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		maxRetries: defaultMaxRetry,
		clients:    make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) httpClientFor(timeout time.Duration) *http.Client {
	c.clientsMu.RLock()
	cached, ok := c.clients[c.proxyURL]
	c.clientsMu.RUnlock()
	if ok {
		cl := *cached
		cl.Timeout = timeout
		return &cl
	}

	transport := &http.Transport{}
	if c.proxyURL != "" {
		if dialer, err := proxyDialer(c.proxyURL); err == nil {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		} else {
			log.Warnf("upstream: invalid proxy url, falling back to direct connection: %v", err)
		}
	}
	if fingerprintEnabled() {
		transport.DialTLSContext = utlsDialTLSContext(transport.DialContext)
	}
	built := &http.Client{Transport: transport}

	c.clientsMu.Lock()
	c.clients[c.proxyURL] = built
	c.clientsMu.Unlock()

	cl := *built
	cl.Timeout = timeout
	return &cl
}

func proxyDialer(raw string) (proxy.Dialer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return proxy.FromURL(u, proxy.Direct)
}

func fixedHeaders(token string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", headerUserAgent)
	h.Set("Editor-Version", headerEditorVersion)
	h.Set("Editor-Plugin-Version", headerEditorPlugin)
	h.Set("Openai-Organization", headerOpenAIOrg)
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func mergeHeaders(base, extra http.Header) http.Header {
	for k, vs := range extra {
		for _, v := range vs {
			base.Set(k, v)
		}
	}
	return base
}

// isRetryableStatus reports whether a response status should be retried
// (429, 408, 425, or >=500). 401 is explicitly excluded: it is surfaced
// so the dispatcher can trigger credential refresh.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusTooEarly:
		return true
	}
	return status >= 500
}

func backoffFor(attempt int) time.Duration {
	d := backoffUnit * time.Duration(1<<attempt)
	if d > backoffCeiling {
		return backoffCeiling
	}
	return d
}

// doWithRetry executes build/do once per attempt, retrying transient
// failures with exponential backoff. The returned response's body is the
// caller's to close. A 401 is never retried here; it propagates to the
// caller on the first attempt it's seen.
func (c *Client) doWithRetry(ctx context.Context, timeout time.Duration, build func(ctx context.Context) (*http.Request, error), httpClient *http.Client) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := build(attemptCtx)
		if err != nil {
			cancel()
			return nil, err
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			lastErr = err
			if attempt < c.maxRetries {
				time.Sleep(backoffFor(attempt))
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || !isRetryableStatus(resp.StatusCode) {
			// cancel() must not run until the caller is done with resp.Body;
			// bind it to the response's lifetime via a wrapped closer.
			return wrapBodyWithCancel(resp, cancel), nil
		}

		// Retryable status: drain and close before retrying.
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		lastErr = &UpstreamError{Status: resp.StatusCode, Body: body}
		if attempt < c.maxRetries {
			time.Sleep(backoffFor(attempt))
			continue
		}
		return nil, lastErr
	}
	return nil, lastErr
}

type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}

func wrapBodyWithCancel(resp *http.Response, cancel context.CancelFunc) *http.Response {
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp
}

// ListModels issues GET /models and parses data[].
func (c *Client) ListModels(ctx context.Context, token string) ([]ModelDescriptor, error) {
	httpClient := c.httpClientFor(defaultTimeout)
	resp, err := c.doWithRetry(ctx, defaultTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+modelsPath, nil)
		if err != nil {
			return nil, err
		}
		req.Header = fixedHeaders(token)
		return req, nil
	}, httpClient)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{Status: resp.StatusCode, Body: body}
	}

	body, err := DecompressBody(resp)
	if err != nil {
		return nil, fmt.Errorf("upstream: decompressing model list: %w", err)
	}

	var parsed struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("upstream: parsing model list: %w", err)
	}

	out := make([]ModelDescriptor, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		var m ModelDescriptor
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if m.Object == "" {
			m.Object = "model"
		}
		if m.OwnedBy == "" {
			m.OwnedBy = "github-copilot"
		}
		out = append(out, m)
	}
	return out, nil
}

// PostChatCompletion issues POST /chat/completions and returns the raw
// response so the caller may consume it as JSON or stream it. The
// response body is never buffered by this method.
func (c *Client) PostChatCompletion(ctx context.Context, token string, payload []byte, extraHeaders http.Header) (*http.Response, error) {
	httpClient := c.httpClientFor(defaultTimeout)
	resp, err := c.doWithRetry(ctx, defaultTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		headers := fixedHeaders(token)
		headers.Set("Content-Type", "application/json")
		req.Header = mergeHeaders(headers, extraHeaders)
		return req, nil
	}, httpClient)
	return resp, err
}

// verifyProbe is the minimal payload used by VerifyModel.
func verifyProbe(modelID string) []byte {
	payload := map[string]any{
		"model":       modelID,
		"messages":    []map[string]string{{"role": "user", "content": "hi"}},
		"max_tokens":  5,
		"temperature": 0,
	}
	raw, _ := json.Marshal(payload)
	return raw
}

// VerifyModel issues a minimal chat completion to determine whether the
// account can actually call modelID. The response body is always
// drained/closed regardless of outcome.
func (c *Client) VerifyModel(ctx context.Context, token, modelID string) bool {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	httpClient := c.httpClientFor(verifyTimeout)
	resp, err := c.doWithRetry(ctx, verifyTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(verifyProbe(modelID)))
		if err != nil {
			return nil, err
		}
		headers := fixedHeaders(token)
		headers.Set("Content-Type", "application/json")
		req.Header = headers
		return req, nil
	}, httpClient)
	if err != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// DecompressBody reads and, per Content-Encoding, transparently
// decompresses a non-streaming response body. Streaming SSE bodies must
// never be passed to this function: they are forwarded byte-for-byte.
func DecompressBody(resp *http.Response) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "br":
		return io.ReadAll(brotli.NewReader(resp.Body))
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		return io.ReadAll(gz)
	default:
		return io.ReadAll(resp.Body)
	}
}
