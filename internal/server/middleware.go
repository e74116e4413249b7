package server

import (
	"net/http"
)

// timeoutBody is the canned 503 payload for requests that
// outlive the write timeout. Report computation over a large
// index is the only handler expected to ever hit it.
const timeoutBody = `{"error":"request timed out"}`

// withTimeout bounds a handler by the configured write timeout.
// http.TimeoutHandler writes the canned body itself, so the
// wrapper's only job is making sure that 503 still carries a
// JSON content type.
func (s *Server) withTimeout(h http.HandlerFunc) http.Handler {
	handler := http.TimeoutHandler(h, s.cfg.WriteTimeout, timeoutBody)

	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(&timeoutJSONWriter{ResponseWriter: w}, r)
		},
	)
}

// timeoutJSONWriter forces Content-Type: application/json onto
// the 503 produced by http.TimeoutHandler, which would otherwise
// go out as text/plain.
type timeoutJSONWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *timeoutJSONWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		if code == http.StatusServiceUnavailable &&
			w.ResponseWriter.Header().Get("Content-Type") == "" {
			w.ResponseWriter.Header().Set("Content-Type", "application/json")
		}
		w.ResponseWriter.WriteHeader(code)
		w.wroteHeader = true
	}
}

func (w *timeoutJSONWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
