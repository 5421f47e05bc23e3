// Package httpx holds small helpers shared by all HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/store"
	"github.com/trafficlab/settle95/pkg/task"
	"github.com/trafficlab/settle95/pkg/window"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code and error message.
func RespondError(w http.ResponseWriter, status int, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	}
	RespondJSON(w, status, response)
}

// RespondClassifiedError maps domain sentinel errors onto HTTP status codes:
// missing records become 404, rejected configuration and windows 400, and
// everything else 500.
func RespondClassifiedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		RespondError(w, http.StatusNotFound, err)
	case errors.Is(err, task.ErrConfiguration),
		errors.Is(err, window.ErrInvalidWindow),
		errors.Is(err, export.ErrExport):
		RespondError(w, http.StatusBadRequest, err)
	default:
		RespondError(w, http.StatusInternalServerError, err)
	}
}

// DecodeStrict parses a JSON request body, rejecting unknown fields so typos
// in task parameters fail loudly instead of being silently dropped.
func DecodeStrict(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
