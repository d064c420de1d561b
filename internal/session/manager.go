package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/voice"
)

type ManagerConfig struct {
	GenerateAssistantID    string
	InterviewerAssistantID string
	// Retention is how long a finished session stays queryable.
	Retention   time.Duration
	IdleTimeout time.Duration
	// UnstartedTTL drops a session that has sat Inactive this long.
	UnstartedTTL time.Duration
}

// CreateRequest asks for a new call. Conduct calls name an interview;
// generate calls carry optional setup values.
type CreateRequest struct {
	Mode        domain.Mode  `json:"mode"`
	UserID      string       `json:"userid"`
	UserName    string       `json:"username"`
	InterviewID string       `json:"interview_id"`
	Setup       domain.Setup `json:"setup"`
}

type Manager struct {
	cfg        ManagerConfig
	voice      voice.Service
	dispatcher Dispatcher
	hub        EventBroadcaster
	archive    Archive
	interviews InterviewSource
	logger     *slog.Logger
	newID      func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]string
}

func NewManager(cfg ManagerConfig, voiceSvc voice.Service, dispatcher Dispatcher, interviews InterviewSource, hub EventBroadcaster, archive Archive, logger *slog.Logger) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	if cfg.UnstartedTTL <= 0 {
		cfg.UnstartedTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		voice:      voiceSvc,
		dispatcher: dispatcher,
		hub:        hub,
		archive:    archive,
		interviews: interviews,
		logger:     logger,
		newID:      uuid.NewString,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   map[string]*Session{},
		byUser:     map[string]string{},
	}
}

// Create registers a new Inactive session. A user whose previous session
// never connected has it replaced.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, &ValidationError{Field: "userid", Reason: "is required"}
	}

	params := Params{
		ID:     m.newID(),
		UserID: req.UserID,
		Mode:   req.Mode,
	}

	switch req.Mode {
	case domain.ModeGenerate:
		params.Role = roleLabel(req.Setup.Role)
		params.Call = generateCallConfig(m.cfg.GenerateAssistantID, req.UserName, req)
	case domain.ModeConduct:
		if strings.TrimSpace(req.InterviewID) == "" {
			return nil, &ValidationError{Field: "interview_id", Reason: "is required for conduct mode"}
		}
		if m.interviews == nil {
			return nil, errors.New("interview source is not configured")
		}
		interview, err := m.interviews.GetInterview(ctx, req.InterviewID)
		if err != nil {
			return nil, fmt.Errorf("load interview: %w", err)
		}
		params.InterviewID = interview.ID
		params.Role = roleLabel(interview.Role)
		params.Call = conductCallConfig(m.cfg.InterviewerAssistantID, interview)
	default:
		return nil, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}

	m.mu.Lock()
	if prevID, ok := m.byUser[req.UserID]; ok {
		if prev := m.sessions[prevID]; prev != nil {
			switch prev.Status() {
			case StatusConnecting, StatusActive:
				m.mu.Unlock()
				return nil, ErrCallInProgress
			case StatusInactive:
				delete(m.sessions, prevID)
				defer prev.Close()
			}
		}
	}

	s := New(m.ctx, params, Deps{
		Voice:       m.voice,
		Dispatcher:  m.dispatcher,
		Hub:         m.hub,
		Archive:     m.archive,
		Logger:      m.logger,
		IdleTimeout: m.cfg.IdleTimeout,
	})
	m.sessions[s.ID()] = s
	m.byUser[req.UserID] = s.ID()
	m.mu.Unlock()

	go m.evictWhenDone(s)
	m.logger.Info("session created", "session_id", s.ID(), "user_id", req.UserID, "mode", string(req.Mode))
	return s, nil
}

func (m *Manager) Start(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	for _, other := range m.sessions {
		if other != s && other.UserID() == s.UserID() && other.Status().Live() {
			m.mu.Unlock()
			return s, ErrCallInProgress
		}
	}
	m.mu.Unlock()
	return s, s.Start(ctx)
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) Stop(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Disconnect()
}

func (m *Manager) Deliver(id string, ev voice.Event) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Deliver(ev)
}

func (m *Manager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) evictWhenDone(s *Session) {
	ticker := time.NewTicker(m.cfg.UnstartedTTL)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-s.Done():
			break wait
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if s.Status() == StatusInactive {
				m.dropUnstarted(s)
				return
			}
		}
	}

	m.mu.Lock()
	if m.byUser[s.UserID()] == s.ID() {
		delete(m.byUser, s.UserID())
	}
	m.mu.Unlock()

	time.AfterFunc(m.cfg.Retention, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.sessions[s.ID()] == s {
			delete(m.sessions, s.ID())
		}
	})
}

func (m *Manager) dropUnstarted(s *Session) {
	m.mu.Lock()
	if m.sessions[s.ID()] == s {
		delete(m.sessions, s.ID())
	}
	if m.byUser[s.UserID()] == s.ID() {
		delete(m.byUser, s.UserID())
	}
	m.mu.Unlock()

	s.Close()
	m.logger.Info("unstarted session dropped", "session_id", s.ID())
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}
