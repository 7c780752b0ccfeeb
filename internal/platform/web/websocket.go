package web

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/dontdude/codestream/internal/stream"
)

const wsWriteTimeout = 10 * time.Second

// wsFrame is one message to the client.
type wsFrame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// handleWebSocket starts the run and relays its output as JSON frames.
// A read error on the connection counts as the client going away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Browsers do not apply CORS to upgrades, so refuse before a run starts.
	if !s.originAllowed(r) {
		s.logger.Warn("WebSocket origin rejected", "executionID", id, "origin", r.Header.Get("Origin"))
		writeError(w, http.StatusForbidden, "Origin not allowed")
		return
	}

	sink, err := s.svc.Run(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "executionID", id, "error", err)
		sink.Disconnect(err)
		return
	}
	defer conn.Close()

	// The connection outlives the upgrade request's context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(f wsFrame) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(f)
	}

	err = sink.Pump(ctx, func(ev stream.Event) error {
		if ev.Name == stream.CompleteEvent {
			return write(wsFrame{Event: ev.Name, Data: ev.Data})
		}
		return write(wsFrame{Event: "line", Data: ev.Data})
	})
	if err != nil {
		s.logger.Debug("WebSocket client gone", "executionID", id, "error", err)
		return
	}

	if cause := sink.Err(); cause != nil {
		_ = write(wsFrame{Event: "error", Data: cause.Error()})
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// originAllowed accepts requests without an Origin header (non-browser
// clients) and origins listed in the CORS settings.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.CORSOrigins, "*") || slices.Contains(s.cfg.CORSOrigins, origin)
}
