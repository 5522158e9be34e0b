package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
)

// RequireMethod validates that the HTTP request uses the specified method.
// HEAD is accepted wherever GET is. Returns false after writing a 405.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	w.Header().Set("Allow", method)
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteAppError writes err with a status derived from its kind.
func WriteAppError(w http.ResponseWriter, err error) error {
	return WriteJSON(w, StatusFor(err), map[string]string{
		"status": "error",
		"kind":   apperr.Kind(err),
		"error":  err.Error(),
	})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.KindConfiguration, apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindResolution:
		return http.StatusUnprocessableEntity
	case apperr.KindUpstreamNetwork, apperr.KindUpstreamHTTP:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
