// Package relay connects to a hosted voice-agent service over a websocket.
// The agent runs the conversation; this side only starts it and listens.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/mock-interviewer/internal/voice"
)

const providerName = "relay"

// DefaultStopGrace bounds how long a stopped call waits for the agent to
// close the socket.
const DefaultStopGrace = 5 * time.Second

type Config struct {
	URL    string
	APIKey string
}

type Service struct {
	cfg       Config
	dialer    *websocket.Dialer
	stopGrace time.Duration
	logger    *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, dialer: websocket.DefaultDialer, stopGrace: DefaultStopGrace, logger: logger}
}

func (s *Service) Start(ctx context.Context, cfg voice.CallConfig) (voice.Connection, error) {
	if strings.TrimSpace(s.cfg.URL) == "" {
		return nil, &voice.ConnectionError{Provider: providerName, Err: errors.New("relay url is not configured")}
	}
	if strings.TrimSpace(cfg.AssistantID) == "" {
		return nil, &voice.ConnectionError{Provider: providerName, Err: errors.New("assistant id is required")}
	}

	headers := http.Header{}
	if s.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	ws, _, err := s.dialer.DialContext(ctx, s.cfg.URL, headers)
	if err != nil {
		return nil, &voice.ConnectionError{Provider: providerName, Err: fmt.Errorf("dial: %w", err)}
	}

	start, err := voice.EncodeStart(cfg)
	if err != nil {
		_ = ws.Close()
		return nil, &voice.ConnectionError{Provider: providerName, Err: err}
	}
	if err := ws.WriteMessage(websocket.TextMessage, start); err != nil {
		_ = ws.Close()
		return nil, &voice.ConnectionError{Provider: providerName, Err: fmt.Errorf("send start: %w", err)}
	}

	c := &connection{
		ws:        ws,
		pipe:      voice.NewPipe(64),
		stopGrace: s.stopGrace,
		logger:    s.logger,
	}
	go c.readLoop()
	return c, nil
}

type connection struct {
	ws        *websocket.Conn
	pipe      *voice.Pipe
	stopGrace time.Duration
	logger    *slog.Logger

	writeMu  sync.Mutex
	stopOnce sync.Once
	stopped  bool
}

func (c *connection) Events() <-chan voice.Event {
	return c.pipe.Events()
}

// Write sends one binary audio frame to the agent.
func (c *connection) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stopped {
		return 0, voice.ErrConnectionClosed
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("send audio: %w", err)
	}
	return len(p), nil
}

// Stop asks the agent to hang up. If the agent keeps the socket open past
// the grace period the read loop times out and the call ends anyway.
func (c *connection) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.writeMu.Lock()
		c.stopped = true
		err = c.ws.WriteMessage(websocket.TextMessage, voice.StopMessage)
		c.writeMu.Unlock()
		if err != nil {
			_ = c.ws.Close()
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.stopGrace))
	})
	return err
}

func (c *connection) readLoop() {
	defer func() {
		_ = c.ws.Close()
		c.pipe.Close()
	}()

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if !isNormalClose(err) && !c.isStopped() {
				c.pipe.Emit(voice.Event{
					Kind: voice.EventError,
					Err:  &voice.ConnectionError{Provider: providerName, Err: err},
				})
			}
			c.pipe.Emit(voice.Event{Kind: voice.EventCallEnd})
			return
		}

		ev, err := voice.DecodeMessage(payload)
		if err != nil {
			if !errors.Is(err, voice.ErrIgnoredMessage) {
				c.logger.Warn("relay message dropped", "error", err)
			}
			continue
		}
		c.pipe.Emit(ev)
		if ev.Kind == voice.EventCallEnd {
			return
		}
	}
}

func (c *connection) isStopped() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.stopped
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
