package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// streamWriteTimeout bounds each SSE write. A dashboard that
// stops reading mid-build must not pin its watch handler (and
// the build progress fan-out behind it) forever.
const streamWriteTimeout = 3 * time.Second

// buildStream pushes index-build events to one watching client
// as Server-Sent Events. All payloads are JSON.
type buildStream struct {
	w http.ResponseWriter
	f http.Flusher
}

// newBuildStream sets the SSE headers and flushes them to the
// client. It fails when the ResponseWriter cannot stream.
func newBuildStream(w http.ResponseWriter) (*buildStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	f.Flush()
	return &buildStream{w: w, f: f}, nil
}

// send emits one named event with v as its JSON payload. It
// returns false when the client is gone or stalled past the
// write timeout, signalling the watch loop to end.
func (s *buildStream) send(event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshaling %s event: %v", event, err)
		return false
	}

	rc := http.NewResponseController(s.w)
	_ = rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		log.Printf("writing %s event: %v", event, err)
		return false
	}
	s.f.Flush()
	return true
}
