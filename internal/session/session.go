package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/mock-interviewer/internal/dispatch"
	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/transcript"
	"github.com/sjawhar/mock-interviewer/internal/voice"
)

// Params describes the call a Session runs.
type Params struct {
	ID          string
	UserID      string
	Mode        domain.Mode
	InterviewID string
	Role        string
	Call        voice.CallConfig
}

// Deps are the collaborators a Session talks to. Hub and Archive are
// optional.
type Deps struct {
	Voice       voice.Service
	Dispatcher  Dispatcher
	Hub         EventBroadcaster
	Archive     Archive
	Logger      *slog.Logger
	IdleTimeout time.Duration
	Now         func() time.Time
}

// Session drives one voice call from connect to its final navigation
// outcome.
type Session struct {
	params    Params
	deps      Deps
	logger    *slog.Logger
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	recorder *transcript.Recorder
	watchdog *watchdog

	mu      sync.Mutex
	status  Status
	conn    voice.Connection
	gen     int
	outcome *domain.Action
	closed  bool

	finishOnce sync.Once
	doneOnce   sync.Once
	done       chan struct{}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	Mode        domain.Mode            `json:"mode"`
	InterviewID string                 `json:"interview_id,omitempty"`
	Status      Status                 `json:"status"`
	Transcript  []transcript.Utterance `json:"transcript"`
	Outcome     *domain.Action         `json:"outcome,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// New builds an Inactive session. Cancelling ctx tears the session down.
func New(ctx context.Context, p Params, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		params:    p,
		deps:      deps,
		logger:    deps.Logger.With("session_id", p.ID, "mode", string(p.Mode)),
		createdAt: deps.Now().UTC(),
		ctx:       sctx,
		cancel:    cancel,
		recorder:  transcript.NewRecorder(),
		status:    StatusInactive,
		done:      make(chan struct{}),
	}
	s.watchdog = newWatchdog(deps.IdleTimeout, func() {
		s.logger.Info("call idle, disconnecting", "timeout", deps.IdleTimeout)
		_ = s.Disconnect()
	})
	return s
}

func (s *Session) ID() string     { return s.params.ID }
func (s *Session) UserID() string { return s.params.UserID }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed once the session has produced its outcome, or was closed
// before any call took place.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Outcome() *domain.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return nil
	}
	out := *s.outcome
	return &out
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	status := s.status
	var outcome *domain.Action
	if s.outcome != nil {
		out := *s.outcome
		outcome = &out
	}
	s.mu.Unlock()

	utterances := s.recorder.Utterances()
	if utterances == nil {
		utterances = []transcript.Utterance{}
	}
	return Snapshot{
		ID:          s.params.ID,
		UserID:      s.params.UserID,
		Mode:        s.params.Mode,
		InterviewID: s.params.InterviewID,
		Status:      status,
		Transcript:  utterances,
		Outcome:     outcome,
		CreatedAt:   s.createdAt,
	}
}

// Start connects the call. A failed connect leaves the session Inactive so
// it can be started again.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.status == StatusFinished {
		s.mu.Unlock()
		return ErrSessionFinished
	}
	next, ok := Next(s.status, TriggerStartRequested)
	if !ok {
		s.mu.Unlock()
		return ErrCallInProgress
	}
	s.status = next
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.publishStatus(StatusConnecting)

	conn, err := s.deps.Voice.Start(ctx, s.params.Call)
	if err != nil {
		var connErr *voice.ConnectionError
		if !errors.As(err, &connErr) {
			err = &voice.ConnectionError{Provider: "voice", Err: err}
		}
		s.connectFailed(gen, err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.status != StatusConnecting {
		// Disconnected or closed while the connection was being set up.
		s.mu.Unlock()
		s.stopConn(conn)
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	go s.consume(gen, conn)
	return nil
}

// Disconnect ends the call from the user's side. Stopping the provider
// connection happens in the background and only its failure is logged.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.status == StatusFinished {
		s.mu.Unlock()
		return nil
	}
	next, ok := Next(s.status, TriggerDisconnectRequested)
	if !ok {
		s.mu.Unlock()
		return ErrNoActiveCall
	}
	s.status = next
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		go s.stopConn(conn)
	}
	s.finish("disconnected")
	return nil
}

// Close tears the session down. A pending dispatch is cancelled and a live
// call is disconnected.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	status := s.status
	s.mu.Unlock()

	s.cancel()
	s.watchdog.stop()

	switch {
	case status.Live():
		_ = s.Disconnect()
	case status == StatusInactive:
		s.doneOnce.Do(func() { close(s.done) })
	}
}

// Deliver injects a provider webhook event into the live call.
func (s *Session) Deliver(ev voice.Event) error {
	s.mu.Lock()
	conn := s.conn
	status := s.status
	s.mu.Unlock()

	if conn == nil || !status.Live() {
		return ErrNoActiveCall
	}
	pusher, ok := conn.(interface{ Push(voice.Event) error })
	if !ok {
		return ErrUnsupported
	}
	return pusher.Push(ev)
}

// WriteAudio forwards caller audio to connections that take it.
func (s *Session) WriteAudio(p []byte) error {
	s.mu.Lock()
	conn := s.conn
	status := s.status
	s.mu.Unlock()

	if conn == nil || !status.Live() {
		return ErrNoActiveCall
	}
	w, ok := conn.(io.Writer)
	if !ok {
		return ErrUnsupported
	}
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}

func (s *Session) consume(gen int, conn voice.Connection) {
	for ev := range conn.Events() {
		if !s.current(gen) {
			continue
		}
		s.handle(gen, conn, ev)
	}

	// A stream that ends without call-end still ends the call.
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	next, ok := Next(s.status, TriggerCallEnded)
	if ok {
		s.status = next
	}
	s.mu.Unlock()
	if ok {
		s.finish("stream closed")
	}
}

func (s *Session) handle(gen int, conn voice.Connection, ev voice.Event) {
	switch ev.Kind {
	case voice.EventCallStart:
		if s.transition(gen, TriggerCallEstablished) {
			s.logger.Info("call established")
			s.publishStatus(StatusActive)
			s.watchdog.silence()
		}

	case voice.EventCallEnd:
		if s.transition(gen, TriggerCallEnded) {
			s.finish("call ended")
		}

	case voice.EventTranscript:
		status := s.Status()
		if !status.Live() {
			return
		}
		if s.deps.Hub != nil {
			s.deps.Hub.BroadcastLiveTranscript(s.params.ID, ev.Speaker, ev.Text, ev.Final)
		}
		if status == StatusActive {
			s.watchdog.activity()
			s.recorder.Record(ev.TranscriptEvent())
		}

	case voice.EventSpeechStart:
		s.watchdog.speech()
		if s.deps.Hub != nil {
			s.deps.Hub.BroadcastSpeaking(s.params.ID, ev.Speaker, true)
		}

	case voice.EventSpeechEnd:
		s.watchdog.silence()
		if s.deps.Hub != nil {
			s.deps.Hub.BroadcastSpeaking(s.params.ID, ev.Speaker, false)
		}

	case voice.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("unspecified voice error")
		}
		s.logger.Warn("voice call error", "error", err)
		if s.deps.Hub != nil {
			s.deps.Hub.BroadcastCallError(s.params.ID, err.Error())
		}
		if s.Status() == StatusConnecting {
			s.connectFailed(gen, err)
			go s.stopConn(conn)
		}
	}
}

// transition applies t if gen is still the current connection.
func (s *Session) transition(gen int, t Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	next, ok := Next(s.status, t)
	if !ok {
		return false
	}
	s.status = next
	return true
}

func (s *Session) current(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) connectFailed(gen int, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	next, ok := Next(s.status, TriggerConnectFailed)
	if ok {
		s.status = next
		s.conn = nil
		// Events still queued on the failed connection are ignored.
		s.gen++
	}
	s.mu.Unlock()

	if ok {
		s.logger.Warn("call failed to connect", "error", err)
		s.publishStatus(StatusInactive)
	}
}

func (s *Session) stopConn(conn voice.Connection) {
	if err := conn.Stop(); err != nil {
		s.logger.Warn("stop voice connection failed", "error", err)
	}
}

// finish runs once per session, on the first transition into Finished.
func (s *Session) finish(reason string) {
	s.finishOnce.Do(func() {
		s.watchdog.stop()
		utterances := s.recorder.Freeze()
		s.logger.Info("call finished", "reason", reason, "utterances", len(utterances))
		s.publishStatus(StatusFinished)

		if s.deps.Archive != nil {
			title := fmt.Sprintf("Interview call %s", s.params.ID)
			if _, err := s.deps.Archive.Save(context.WithoutCancel(s.ctx), s.params.ID, title, utterances); err != nil {
				s.logger.Warn("archive transcript failed", "error", err)
			}
		}

		req := dispatch.Request{
			Mode:        s.params.Mode,
			SessionID:   s.params.ID,
			UserID:      s.params.UserID,
			InterviewID: s.params.InterviewID,
			Role:        s.params.Role,
			Transcript:  utterances,
		}
		go s.dispatch(req)
	})
}

func (s *Session) dispatch(req dispatch.Request) {
	action := s.deps.Dispatcher.Dispatch(s.ctx, req)

	s.mu.Lock()
	s.outcome = &action
	s.mu.Unlock()

	s.logger.Info("call outcome", "path", action.Path, "reason", action.Reason)
	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastNavigate(s.params.ID, action.Path)
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) publishStatus(status Status) {
	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastCallStatus(s.params.ID, status)
	}
}
