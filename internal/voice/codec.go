package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

// Message is the JSON envelope the hosted voice agent uses on both its
// websocket and its webhook.
type Message struct {
	Type           string `json:"type"`
	Role           string `json:"role,omitempty"`
	TranscriptType string `json:"transcriptType,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	Status         string `json:"status,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ErrIgnoredMessage marks messages that carry nothing the session uses.
var ErrIgnoredMessage = errors.New("ignored voice message")

// DecodeMessage parses one provider message into an Event.
func DecodeMessage(data []byte) (Event, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("decode voice message: %w", err)
	}
	return msg.Event()
}

func (m Message) Event() (Event, error) {
	switch strings.ToLower(m.Type) {
	case "call-start":
		return Event{Kind: EventCallStart}, nil
	case "call-end":
		return Event{Kind: EventCallEnd}, nil
	case "speech-start":
		return Event{Kind: EventSpeechStart}, nil
	case "speech-end":
		return Event{Kind: EventSpeechEnd}, nil
	case "status-update":
		switch strings.ToLower(m.Status) {
		case "in-progress":
			return Event{Kind: EventCallStart}, nil
		case "ended":
			return Event{Kind: EventCallEnd}, nil
		}
		return Event{}, ErrIgnoredMessage
	case "transcript":
		speaker, _ := transcript.ParseSpeaker(m.Role)
		return Event{
			Kind:    EventTranscript,
			Final:   strings.EqualFold(m.TranscriptType, "final"),
			Speaker: speaker,
			Text:    m.Transcript,
		}, nil
	case "error":
		reason := m.Error
		if reason == "" {
			reason = "unspecified provider error"
		}
		return Event{Kind: EventError, Err: errors.New(reason)}, nil
	case "":
		return Event{}, fmt.Errorf("decode voice message: missing type")
	default:
		return Event{}, ErrIgnoredMessage
	}
}

// EncodeStart builds the message that starts an agent on a relay socket.
func EncodeStart(cfg CallConfig) ([]byte, error) {
	payload := struct {
		Type           string         `json:"type"`
		AssistantID    string         `json:"assistantId"`
		VariableValues map[string]any `json:"variableValues,omitempty"`
	}{
		Type:           "start",
		AssistantID:    cfg.AssistantID,
		VariableValues: cfg.Variables,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode start message: %w", err)
	}
	return data, nil
}

// StopMessage asks the agent to hang up.
var StopMessage = []byte(`{"type":"stop"}`)
