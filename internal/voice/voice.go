// Package voice defines the boundary to the real-time voice-call service.
// Adapters translate a provider's wire format into Event values.
package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

type EventKind string

const (
	EventCallStart   EventKind = "call-start"
	EventCallEnd     EventKind = "call-end"
	EventSpeechStart EventKind = "speech-start"
	EventSpeechEnd   EventKind = "speech-end"
	EventTranscript  EventKind = "transcript"
	EventError       EventKind = "error"
)

// Event is one notification from a live call.
type Event struct {
	Kind    EventKind
	Final   bool
	Speaker transcript.Speaker
	Text    string
	Err     error
}

// TranscriptEvent converts a transcript notification for the recorder.
func (e Event) TranscriptEvent() transcript.Event {
	return transcript.Event{Final: e.Final, Speaker: e.Speaker, Text: e.Text}
}

// CallConfig identifies the agent to run and the values it is started with.
type CallConfig struct {
	AssistantID string
	Variables   map[string]any
}

// Connection is a live call. Events is closed once the call is over.
type Connection interface {
	Events() <-chan Event
	Stop() error
}

type Service interface {
	Start(ctx context.Context, cfg CallConfig) (Connection, error)
}

// ConnectionError reports a failure to start, or keep, a call.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s voice connection: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Pipe is the event channel shared by adapters. Emit after Close is a no-op.
type Pipe struct {
	mu     sync.Mutex
	events chan Event
	closed bool
	once   sync.Once
}

func NewPipe(size int) *Pipe {
	if size <= 0 {
		size = 64
	}
	return &Pipe{events: make(chan Event, size)}
}

func (p *Pipe) Events() <-chan Event {
	return p.events
}

// Emit delivers ev, blocking while the buffer is full. It returns false when
// the pipe is closed.
func (p *Pipe) Emit(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.events <- ev
	return true
}

// Close ends the stream. Consumers treat a closed stream as the end of the
// call.
func (p *Pipe) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed = true
		close(p.events)
	})
}
