// Package devserver is a scripted agent server used for local
// development and end-to-end tests: it replays canned event envelopes
// over the same SSE and websocket surfaces the real server exposes.
package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sdelcore/droidcode/pkg/wire"
)

type Server struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.RWMutex
	scripts map[string][]wire.Envelope
}

// New creates a devserver that pauses interval between replayed events.
func New(logger *slog.Logger, interval time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		interval: interval,
		scripts:  make(map[string][]wire.Envelope),
	}
}

// SetScript registers the envelopes replayed for a session.
func (s *Server) SetScript(sessionID string, envelopes []wire.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[sessionID] = envelopes
}

func (s *Server) script(sessionID string) ([]wire.Envelope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script, ok := s.scripts[sessionID]
	return script, ok
}

// Handler returns the routed HTTP surface: the per-session SSE stream
// and the realtime websocket.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/sessions/{id}/events", s.sseEvents)
	r.Get("/api/realtime", s.realtimeSocket)
	return r
}

// sseEvents replays the session's script as Server-Sent Events,
// honoring Last-Event-ID resume.
func (s *Server) sseEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	script, ok := s.script(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for _, env := range resumeAfter(script, r.Header.Get("Last-Event-ID")) {
		if !s.pause(ctx) {
			return
		}
		if err := writeSSEEvent(w, env); err != nil {
			return
		}
		flusher.Flush()
	}
}

// writeSSEEvent serialises one envelope in the SSE wire format:
//
//	id: <eventId>\n
//	event: <type>\n
//	data: <json>\n
//	\n
func writeSSEEvent(w http.ResponseWriter, env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.EventID, env.Type, data)
	return err
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// realtimeSocket replays a session's script as JSON envelopes after a
// subscribe request, then closes cleanly.
func (s *Server) realtimeSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sub wire.SubscribeRequest
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	if sub.Type != wire.ClientMessageSubscribe {
		s.logger.Debug("unsupported client message", "type", sub.Type)
		return
	}

	script, ok := s.script(sub.SessionID)
	if !ok {
		return
	}

	ctx := r.Context()
	for _, env := range resumeAfter(script, sub.LastEventID) {
		if !s.pause(ctx) {
			return
		}
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) pause(ctx interface{ Done() <-chan struct{} }) bool {
	if s.interval <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.interval):
		return true
	}
}

// resumeAfter returns the suffix of script strictly after lastEventID,
// or the whole script if the ID is unknown or empty.
func resumeAfter(script []wire.Envelope, lastEventID string) []wire.Envelope {
	if lastEventID == "" {
		return script
	}
	for i, env := range script {
		if env.EventID == lastEventID {
			return script[i+1:]
		}
	}
	return script
}
