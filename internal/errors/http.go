// Package errors renders gofulmen error envelopes as the JSON error body of
// the status API.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/psub/pkg/history"
)

// Error codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under an "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// New builds an envelope.
func New(code, message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(code, message)
}

// WithDetails attaches structured context. An envelope that rejects the
// context is returned unchanged.
func WithDetails(env *gferrors.ErrorEnvelope, details map[string]any) *gferrors.ErrorEnvelope {
	withCtx, err := env.WithContext(details)
	if err != nil {
		return env
	}
	return withCtx
}

// FromEnvelope converts an envelope to the response body.
func FromEnvelope(env *gferrors.ErrorEnvelope) HTTPErrorResponse {
	return HTTPErrorResponse{Error: HTTPError{
		Code:      env.Code,
		Message:   env.Message,
		Details:   env.Context,
		RequestID: env.CorrelationID,
	}}
}

// Write sends the envelope with the given status. The request ID assigned by
// chi's RequestID middleware is used as the correlation ID when the envelope
// has none.
func Write(w http.ResponseWriter, r *http.Request, status int, env *gferrors.ErrorEnvelope) {
	if r != nil && env.CorrelationID == "" {
		if id := middleware.GetReqID(r.Context()); id != "" {
			env = env.WithCorrelationID(id)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(FromEnvelope(env))
}

// NotFound writes a 404 envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusNotFound, New(CodeNotFound, "resource not found"))
}

// MethodNotAllowed writes a 405 envelope.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusMethodNotAllowed, New(CodeMethodNotAllowed, "method "+r.Method+" not allowed"))
}

// StatusFor maps an error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	var ambiguous *history.AmbiguousError
	switch {
	case stderrors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case stderrors.As(err, &ambiguous):
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondWithError writes the envelope matching err. Internal errors hide
// their message.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	Write(w, r, status, New(code, msg))
}
