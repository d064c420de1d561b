package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type CallStatusEvent struct {
	Event
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

type LiveTranscriptEvent struct {
	Event
	CallID  string `json:"call_id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Final   bool   `json:"final"`
}

type SpeakingEvent struct {
	Event
	CallID   string `json:"call_id"`
	Speaker  string `json:"speaker"`
	Speaking bool   `json:"speaking"`
}

type CallErrorEvent struct {
	Event
	CallID  string `json:"call_id"`
	Message string `json:"message"`
}

// NavigateEvent tells the client where to go once a call's outcome is known.
type NavigateEvent struct {
	Event
	CallID string `json:"call_id"`
	Path   string `json:"path"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
