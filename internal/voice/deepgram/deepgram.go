// Package deepgram runs a call against the Deepgram live-transcription API.
// Audio written to the connection is streamed to Deepgram and the candidate's
// speech comes back as transcript events.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/mock-interviewer/internal/transcript"
	"github.com/sjawhar/mock-interviewer/internal/voice"
)

const providerName = "deepgram"

var initOnce sync.Once

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

type Service struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Service {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger}
}

func (s *Service) Start(ctx context.Context, _ voice.CallConfig) (voice.Connection, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return nil, &voice.ConnectionError{Provider: providerName, Err: errors.New("MOCK_INTERVIEWER_DEEPGRAM_API_KEY is not configured")}
	}
	initOnce.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	// The stream outlives the request that opened it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn := &connection{
		pipe:   voice.NewPipe(64),
		cancel: cancel,
		logger: s.logger,
	}

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := liveOptions(s.cfg)

	dgClient, err := client.NewWSUsingCallback(streamCtx, s.cfg.APIKey, cOptions, tOptions, callback{conn: conn})
	if err != nil {
		cancel()
		return nil, &voice.ConnectionError{Provider: providerName, Err: fmt.Errorf("create client: %w", err)}
	}
	if ok := dgClient.Connect(); !ok {
		cancel()
		return nil, &voice.ConnectionError{Provider: providerName, Err: errors.New("connect failed")}
	}

	conn.audio = dgClient
	conn.stop = func() {
		dgClient.Stop()
	}
	return conn, nil
}

// liveOptions asks for VAD events and utterance-end messages so speech
// start and end reach the session.
func liveOptions(cfg Config) *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		VadEvents:      true,
		UtteranceEndMs: "1000",
		Encoding:       "linear16",
		SampleRate:     cfg.SampleRate,
		Channels:       1,
	}
}

type connection struct {
	pipe   *voice.Pipe
	cancel context.CancelFunc
	logger *slog.Logger

	audio io.Writer
	stop  func()

	mu       sync.Mutex
	buffer   utteranceBuffer
	stopOnce sync.Once
}

func (c *connection) Events() <-chan voice.Event {
	return c.pipe.Events()
}

func (c *connection) Write(p []byte) (int, error) {
	if c.audio == nil {
		return 0, voice.ErrConnectionClosed
	}
	return c.audio.Write(p)
}

func (c *connection) Stop() error {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			c.stop()
		}
		c.cancel()
		c.flush()
		c.pipe.Emit(voice.Event{Kind: voice.EventCallEnd})
		c.pipe.Close()
	})
	return nil
}

func (c *connection) message(mr *api.MessageResponse) {
	if len(mr.Channel.Alternatives) == 0 {
		return
	}
	alt := mr.Channel.Alternatives[0]
	sentence := strings.TrimSpace(alt.Transcript)
	if sentence == "" {
		return
	}

	// Interim result, shown live but never recorded.
	if !mr.IsFinal {
		c.pipe.Emit(voice.Event{Kind: voice.EventTranscript, Speaker: transcript.SpeakerUser, Text: sentence})
		return
	}

	words := make([]word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, word{Text: w.PunctuatedWord})
	}
	if len(words) == 0 {
		words = append(words, word{Text: sentence})
	}

	c.mu.Lock()
	c.buffer.add(words)
	c.mu.Unlock()

	if mr.SpeechFinal {
		c.flush()
	}
}

func (c *connection) flush() {
	c.mu.Lock()
	text := c.buffer.flush()
	c.mu.Unlock()
	if text == "" {
		return
	}
	c.pipe.Emit(voice.Event{Kind: voice.EventTranscript, Final: true, Speaker: transcript.SpeakerUser, Text: text})
}

type callback struct {
	conn *connection
}

func (c callback) Open(*api.OpenResponse) error {
	c.conn.pipe.Emit(voice.Event{Kind: voice.EventCallStart})
	return nil
}

func (c callback) Message(mr *api.MessageResponse) error {
	c.conn.message(mr)
	return nil
}

func (c callback) Metadata(*api.MetadataResponse) error { return nil }

func (c callback) SpeechStarted(*api.SpeechStartedResponse) error {
	c.conn.pipe.Emit(voice.Event{Kind: voice.EventSpeechStart, Speaker: transcript.SpeakerUser})
	return nil
}

func (c callback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.conn.flush()
	c.conn.pipe.Emit(voice.Event{Kind: voice.EventSpeechEnd, Speaker: transcript.SpeakerUser})
	return nil
}

func (c callback) Close(*api.CloseResponse) error {
	c.conn.flush()
	c.conn.pipe.Emit(voice.Event{Kind: voice.EventCallEnd})
	c.conn.pipe.Close()
	return nil
}

func (c callback) Error(er *api.ErrorResponse) error {
	c.conn.logger.Warn("deepgram error", "code", er.ErrCode, "description", er.Description)
	c.conn.pipe.Emit(voice.Event{
		Kind: voice.EventError,
		Err:  &voice.ConnectionError{Provider: providerName, Err: fmt.Errorf("%s: %s", er.ErrCode, er.Description)},
	})
	return nil
}

func (c callback) UnhandledEvent([]byte) error { return nil }
