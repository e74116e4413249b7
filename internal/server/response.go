package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// apiError is the JSON body of every non-200 API response.
type apiError struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the given HTTP status code. Encoding
// failures are logged; at that point the status line is already
// on the wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding %T response: %v", v, err)
	}
}

// writeError writes an apiError with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// isCanceled reports whether err is a context cancellation or
// deadline. Handlers return without writing in that case: the
// timeout wrapper already answered with 503, and the report
// path must not race it with a second response.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
