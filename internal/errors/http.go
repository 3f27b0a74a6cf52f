// Package errors defines the JSON error envelope returned by the HTTP
// surface. Every non-2xx response carries an HTTPErrorResponse body.
package errors

import (
	"encoding/json"
	"net/http"
)

// Stable error codes for the HTTP surface.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPErrorDetail is the inner error object.
type HTTPErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the envelope for error responses.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// WriteError writes a minimal error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorDetail(w, status, HTTPErrorDetail{Code: code, Message: message})
}

// WriteErrorDetail writes a fully populated error envelope.
func WriteErrorDetail(w http.ResponseWriter, status int, detail HTTPErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: detail})
}
