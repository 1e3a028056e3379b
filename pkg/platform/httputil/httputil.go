// Package httputil renders JSON responses and domain errors.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "accessgate/pkg/domain-errors"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and error body. Internal errors hide their
// description; errors without a domain code are treated as internal.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), ErrorBody(err))
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	de, ok := dErrors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	return dErrors.ToHTTPStatus(de.Code)
}

// ErrorBody returns the caller-safe body for err.
func ErrorBody(err error) ErrorResponse {
	de, ok := dErrors.As(err)
	if !ok || dErrors.ToHTTPStatus(de.Code) == http.StatusInternalServerError {
		return ErrorResponse{Error: string(dErrors.CodeInternal)}
	}
	return ErrorResponse{Error: string(de.Code), Description: de.Message}
}

// DecodeJSON reads a JSON body into v. Empty, oversized or malformed bodies
// yield a bad_request domain error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return dErrors.New(dErrors.CodeBadRequest, "request body is required")
		case errors.As(err, &maxErr):
			return dErrors.New(dErrors.CodeBadRequest, "request body too large")
		default:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
		}
	}
	return nil
}
