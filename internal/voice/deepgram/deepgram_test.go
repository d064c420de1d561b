package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/sjawhar/mock-interviewer/internal/transcript"
	"github.com/sjawhar/mock-interviewer/internal/voice"
)

func newTestConnection() (*connection, callback) {
	conn := &connection{
		pipe:   voice.NewPipe(64),
		cancel: func() {},
		logger: slog.Default(),
	}
	return conn, callback{conn: conn}
}

func decodeMessage(t *testing.T, raw string) *api.MessageResponse {
	t.Helper()
	var msg api.MessageResponse
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal deepgram message failed: %v", err)
	}
	return &msg
}

func drain(conn *connection) []voice.Event {
	var events []voice.Event
	for ev := range conn.Events() {
		events = append(events, ev)
	}
	return events
}

func TestCallbackBuffersFinalWordsUntilSpeechFinal(t *testing.T) {
	conn, cb := newTestConnection()

	_ = cb.Open(nil)
	_ = cb.Message(decodeMessage(t, `{
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "hello wor"}]}
	}`))
	_ = cb.Message(decodeMessage(t, `{
		"is_final": true,
		"speech_final": false,
		"channel": {"alternatives": [{"transcript": "hello world", "words": [
			{"punctuated_word": "Hello", "start": 0, "end": 0.4},
			{"punctuated_word": "world,", "start": 0.4, "end": 0.8}
		]}]}
	}`))
	if conn.buffer.len() != 2 {
		t.Fatalf("expected 2 buffered words, got %d", conn.buffer.len())
	}
	_ = cb.Message(decodeMessage(t, `{
		"is_final": true,
		"speech_final": true,
		"channel": {"alternatives": [{"transcript": "I'm ready", "words": [
			{"punctuated_word": "I'm", "start": 0.9, "end": 1.1},
			{"punctuated_word": "ready.", "start": 1.1, "end": 1.5}
		]}]}
	}`))
	_ = cb.Close(nil)

	events := drain(conn)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %#v", events)
	}
	if events[0].Kind != voice.EventCallStart {
		t.Fatalf("expected call-start first, got %#v", events[0])
	}
	if events[1].Kind != voice.EventTranscript || events[1].Final || events[1].Text != "hello wor" {
		t.Fatalf("expected interim transcript, got %#v", events[1])
	}
	want := voice.Event{Kind: voice.EventTranscript, Final: true, Speaker: transcript.SpeakerUser, Text: "Hello world, I'm ready."}
	if events[2] != want {
		t.Fatalf("expected %#v, got %#v", want, events[2])
	}
	if events[3].Kind != voice.EventCallEnd {
		t.Fatalf("expected call-end last, got %#v", events[3])
	}
}

func TestUtteranceEndFlushesBuffer(t *testing.T) {
	conn, cb := newTestConnection()

	_ = cb.Message(decodeMessage(t, `{
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "partial thought"}]}
	}`))
	_ = cb.UtteranceEnd(nil)
	_ = cb.UtteranceEnd(nil)
	conn.pipe.Close()

	events := drain(conn)
	if len(events) != 3 {
		t.Fatalf("expected transcript then two speech-end events, got %#v", events)
	}
	if !events[0].Final || events[0].Text != "partial thought" {
		t.Fatalf("expected flushed transcript, got %#v", events[0])
	}
	if events[1].Kind != voice.EventSpeechEnd || events[2].Kind != voice.EventSpeechEnd {
		t.Fatalf("expected speech-end events, got %#v", events[1:])
	}
}

func TestCallbackIgnoresEmptyMessages(t *testing.T) {
	conn, cb := newTestConnection()
	_ = cb.Message(decodeMessage(t, `{"is_final": true, "channel": {"alternatives": []}}`))
	_ = cb.Message(decodeMessage(t, `{"is_final": true, "channel": {"alternatives": [{"transcript": "   "}]}}`))
	conn.pipe.Close()

	if events := drain(conn); len(events) != 0 {
		t.Fatalf("expected no events, got %#v", events)
	}
}

func TestErrorCallbackEmitsConnectionError(t *testing.T) {
	conn, cb := newTestConnection()
	_ = cb.Error(&api.ErrorResponse{})
	conn.pipe.Close()

	events := drain(conn)
	if len(events) != 1 || events[0].Kind != voice.EventError {
		t.Fatalf("expected one error event, got %#v", events)
	}
	var connErr *voice.ConnectionError
	if !errors.As(events[0].Err, &connErr) || connErr.Provider != "deepgram" {
		t.Fatalf("expected deepgram ConnectionError, got %v", events[0].Err)
	}
}

func TestStopFlushesAndEndsOnce(t *testing.T) {
	conn, cb := newTestConnection()
	stops := 0
	conn.stop = func() { stops++ }

	_ = cb.Message(decodeMessage(t, `{
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "last words"}]}
	}`))
	_ = conn.Stop()
	_ = conn.Stop()
	_ = cb.Close(nil)

	events := drain(conn)
	if stops != 1 {
		t.Fatalf("expected one SDK stop, got %d", stops)
	}
	if len(events) != 2 || events[0].Text != "last words" || events[1].Kind != voice.EventCallEnd {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestStartRequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, nil).Start(context.Background(), voice.CallConfig{})
	var connErr *voice.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestWriteWithoutStream(t *testing.T) {
	conn, _ := newTestConnection()
	if _, err := conn.Write([]byte{0, 1}); !errors.Is(err, voice.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestLiveOptionsRequestSpeechEvents(t *testing.T) {
	opts := liveOptions(New(Config{SampleRate: 48000}, nil).cfg)
	if !opts.VadEvents || opts.UtteranceEndMs == "" || !opts.InterimResults {
		t.Fatalf("expected VAD and utterance-end events, got %+v", opts)
	}
	if opts.SampleRate != 48000 || opts.Model != "nova-2" || opts.Language != "en-US" {
		t.Fatalf("unexpected stream options %+v", opts)
	}
}

func TestSpeechCallbacksEmitSpeakingEvents(t *testing.T) {
	conn, cb := newTestConnection()
	_ = cb.SpeechStarted(&api.SpeechStartedResponse{})
	_ = cb.UtteranceEnd(&api.UtteranceEndResponse{})
	conn.pipe.Close()

	events := drain(conn)
	if len(events) != 2 || events[0].Kind != voice.EventSpeechStart || events[1].Kind != voice.EventSpeechEnd {
		t.Fatalf("expected speech-start then speech-end, got %#v", events)
	}
}
