// Package apierror builds outbound error envelopes in the OpenAI,
// Anthropic, or Ollama shape from the dispatcher's conceptual error
// kinds. Grounded on CLIProxyAPI's BuildErrorResponseBody /
// ErrorResponse / ErrorDetail pattern in sdk/api/handlers/handlers.go,
// generalized to also emit Ollama's flat string-error shape.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Kind is a conceptual error classification, independent of outbound schema.
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request"
	KindMissingCredentials Kind = "missing_credentials"
	KindUpstreamTransient  Kind = "upstream_transient"
	KindUpstreamAuth       Kind = "upstream_auth"
	KindUpstreamPermanent  Kind = "upstream_permanent"
	KindParseError         Kind = "parse_error"
	KindCatalogError       Kind = "catalog_error"
	KindServerError        Kind = "server_error"
)

// Schema names the outbound wire shape the envelope should take.
type Schema string

const (
	SchemaOpenAI    Schema = "openai"
	SchemaAnthropic Schema = "anthropic"
	SchemaOllama    Schema = "ollama"
)

// statusFor maps a conceptual kind to its documented HTTP status.
func statusFor(k Kind) int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindMissingCredentials:
		return http.StatusUnauthorized
	case KindUpstreamTransient:
		return http.StatusBadGateway
	case KindUpstreamAuth:
		return http.StatusUnauthorized
	case KindParseError:
		return http.StatusBadGateway
	case KindUpstreamPermanent:
		return http.StatusBadGateway
	case KindCatalogError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// codeFor maps a conceptual kind to the short machine-readable code used in
// OpenAI/Anthropic-shaped envelopes.
func codeFor(k Kind) string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindMissingCredentials:
		return "invalid_api_key"
	case KindUpstreamTransient:
		return "upstream_error"
	case KindUpstreamAuth:
		return "upstream_auth_error"
	case KindParseError:
		return "parse_error"
	case KindUpstreamPermanent:
		return "upstream_error"
	case KindCatalogError:
		return "catalog_error"
	default:
		return "internal_server_error"
	}
}

func typeFor(k Kind) string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindMissingCredentials, KindUpstreamAuth:
		return "authentication_error"
	default:
		return "server_error"
	}
}

// Envelope is the OpenAI/Anthropic-shaped {error:{message,type,code}} body.
type Envelope struct {
	Error EnvelopeDetail `json:"error"`
}

// EnvelopeDetail carries the human-readable message, category, and short code.
type EnvelopeDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// ollamaEnvelope is Ollama's flat {"error": "message"} shape.
type ollamaEnvelope struct {
	Error string `json:"error"`
}

// Build returns the HTTP status and JSON body for the given kind, message,
// and outbound schema. If rawUpstreamBody is valid JSON (an UpstreamPermanent
// pass-through), it is forwarded unchanged instead of being re-wrapped.
//
// upstreamStatus, when non-zero, overrides the kind's default status with
// the real status the upstream returned — used for KindUpstreamPermanent,
// where the spec requires forwarding the upstream's own status code (e.g.
// a real 403/404) rather than a fixed 502.
func Build(kind Kind, message string, schema Schema, rawUpstreamBody []byte, upstreamStatus ...int) (status int, body []byte) {
	status = statusFor(kind)
	if len(upstreamStatus) > 0 && upstreamStatus[0] != 0 {
		status = upstreamStatus[0]
	}
	if len(rawUpstreamBody) > 0 && json.Valid(rawUpstreamBody) {
		return status, rawUpstreamBody
	}
	if message == "" {
		message = http.StatusText(status)
	}

	if schema == SchemaOllama {
		payload, err := json.Marshal(ollamaEnvelope{Error: message})
		if err != nil {
			return status, []byte(`{"error":"internal error"}`)
		}
		return status, payload
	}

	payload, err := json.Marshal(Envelope{Error: EnvelopeDetail{
		Message: message,
		Type:    typeFor(kind),
		Code:    codeFor(kind),
	}})
	if err != nil {
		return status, []byte(`{"error":{"message":"internal error","type":"server_error","code":"internal_server_error"}}`)
	}
	return status, payload
}
