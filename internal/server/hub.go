package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/mock-interviewer/internal/session"
	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

// Hub fans call events out to websocket subscribers. A subscriber either
// follows one call or, with an empty call id, every call.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]string
	now     func() time.Time
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[chan []byte]string),
		now:     time.Now,
		logger:  logger,
	}
}

func (h *Hub) Subscribe(callID string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = callID
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	_, ok := h.clients[ch]
	delete(h.clients, ch)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Broadcast delivers msg to subscribers of callID. Slow subscribers miss
// messages rather than block the caller.
func (h *Hub) Broadcast(callID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, filter := range h.clients {
		if filter != "" && filter != callID {
			continue
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastCallStatus(callID string, status session.Status) {
	h.broadcastEvent(callID, CallStatusEvent{
		Event:  newEvent("call_status", h.now()),
		CallID: callID,
		Status: string(status),
	})
}

func (h *Hub) BroadcastLiveTranscript(callID string, speaker transcript.Speaker, text string, final bool) {
	h.broadcastEvent(callID, LiveTranscriptEvent{
		Event:   newEvent("live_transcript", h.now()),
		CallID:  callID,
		Speaker: string(speaker),
		Text:    text,
		Final:   final,
	})
}

func (h *Hub) BroadcastSpeaking(callID string, speaker transcript.Speaker, speaking bool) {
	h.broadcastEvent(callID, SpeakingEvent{
		Event:    newEvent("speaking", h.now()),
		CallID:   callID,
		Speaker:  string(speaker),
		Speaking: speaking,
	})
}

func (h *Hub) BroadcastCallError(callID, message string) {
	h.broadcastEvent(callID, CallErrorEvent{
		Event:   newEvent("call_error", h.now()),
		CallID:  callID,
		Message: message,
	})
}

func (h *Hub) BroadcastNavigate(callID, path string) {
	h.broadcastEvent(callID, NavigateEvent{
		Event:  newEvent("navigate", h.now()),
		CallID: callID,
		Path:   path,
	})
}

func (h *Hub) broadcastEvent(callID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed", "error", err)
		return
	}
	h.Broadcast(callID, payload)
}
