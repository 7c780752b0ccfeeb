package web

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dontdude/codestream/internal/stream"
)

// handleStream starts the run and relays its output as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sink, err := s.svc.Run(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		sink.Disconnect(err)
		return
	}

	err = sink.Pump(r.Context(), func(ev stream.Event) error {
		if err := writeSSE(w, ev.Name, ev.Data); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		s.logger.Debug("SSE client gone", "executionID", id, "error", err)
		return
	}

	if cause := sink.Err(); cause != nil {
		_ = writeSSE(w, "error", cause.Error())
		_ = rc.Flush()
	}
}

// writeSSE writes one event. Every line of data becomes its own data field so
// the client reassembles the payload, terminators included.
func writeSSE(w io.Writer, event, data string) error {
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
