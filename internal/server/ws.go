package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sjawhar/mock-interviewer/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams hub events. ?call_id= narrows the stream to one call.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := a.hub.Subscribe(r.URL.Query().Get("call_id"))
	defer a.hub.Unsubscribe(ch)

	connectionEvent := ConnectionEvent{
		Event:     newEvent("connection", time.Now().UTC()),
		Connected: true,
	}
	payload, err := json.Marshal(connectionEvent)
	if err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}

	// Reader goroutine notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// handleAudio feeds binary frames from the browser into the call's voice
// connection.
func (a *api) handleAudio(w http.ResponseWriter, r *http.Request) {
	s, err := a.calls.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("audio ws upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	logger := a.logger.With("session_id", s.ID())
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("audio stream closed", "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if err := s.WriteAudio(data); err != nil {
			msg := err.Error()
			if errors.Is(err, session.ErrNoActiveCall) {
				msg = "call is not live"
			}
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
			return
		}
	}
}
