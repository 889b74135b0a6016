// Package transport contains the HTTP router, middleware chain and request
// handlers of the workflow API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/copydesk/internal/observability"
	"github.com/pitabwire/copydesk/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:        http.StatusBadRequest,
	model.ErrValidationError:   http.StatusBadRequest,
	model.ErrInvalidTransition: http.StatusBadRequest,
	model.ErrInvalidIdentifier: http.StatusBadRequest,
	model.ErrInvalidArgument:   http.StatusBadRequest,
	model.ErrUnauthorized:      http.StatusUnauthorized,
	model.ErrForbidden:         http.StatusForbidden,
	model.ErrNotFound:          http.StatusNotFound,
	model.ErrConflict:          http.StatusConflict,
	model.ErrDuplicateStyle:    http.StatusConflict,
	model.ErrPersistence:       http.StatusInternalServerError,
	model.ErrInternalError:     http.StatusInternalServerError,
	model.ErrUpstream:          http.StatusBadGateway,
}

// StatusFor returns the HTTP status for an error code, defaulting to 500.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code and the request's trace ID. Errors that are not an
// *ErrorEnvelope become a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := StatusFor(ee.Code)
	out := *ee
	out.TraceID = observability.TraceIDFromContext(r.Context())
	WriteJSON(w, status, errorResponse{Error: &out})
}

// WriteValidationError writes a 400 response with field-level details.
func WriteValidationError(w http.ResponseWriter, r *http.Request, details []model.FieldError) {
	WriteError(w, r, model.NewValidationError(details))
}
