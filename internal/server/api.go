package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/questions"
	"github.com/sjawhar/mock-interviewer/internal/session"
	"github.com/sjawhar/mock-interviewer/internal/storage"
	"github.com/sjawhar/mock-interviewer/internal/voice"
)

const maxBodyBytes = 1 << 20

type CallManager interface {
	Create(ctx context.Context, req session.CreateRequest) (*session.Session, error)
	Start(ctx context.Context, id string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Stop(id string) error
	Deliver(id string, ev voice.Event) error
}

type Store interface {
	GetInterview(ctx context.Context, id string) (domain.Interview, error)
	ListInterviewsByUser(ctx context.Context, userID string) ([]domain.Interview, error)
	ListLatestInterviews(ctx context.Context, excludeUserID string, limit int) ([]domain.Interview, error)
	GetFeedbackByInterviewAndUser(ctx context.Context, interviewID, userID string) (*domain.Feedback, error)
	ListFeedbackByUser(ctx context.Context, userID string) ([]domain.Feedback, error)
}

type QuestionGenerator interface {
	Generate(ctx context.Context, setup domain.Setup) (domain.Interview, error)
}

type api struct {
	calls     CallManager
	store     Store
	generator QuestionGenerator
	hub       *Hub
	warnings  func() []string
	logger    *slog.Logger
}

var errUserRequired = errors.New("user id is required: set X-User-ID or user_id")

// userID reads the caller from the X-User-ID header or the user_id query
// parameter.
func userID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-User-ID")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	var warnings []string
	if a.warnings != nil {
		warnings = a.warnings()
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (a *api) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = userID(r)
	}

	s, err := a.calls.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.calls.Start(r.Context(), s.ID()); err != nil {
		a.logger.Warn("call start failed", "session_id", s.ID(), "error", err)
		writeErrorWithCall(w, err, s.Snapshot())
		return
	}
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (a *api) handleGetCall(w http.ResponseWriter, r *http.Request) {
	s, err := a.calls.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleStartCall retries a call whose previous connect failed.
func (a *api) handleStartCall(w http.ResponseWriter, r *http.Request) {
	s, err := a.calls.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if s == nil {
			writeError(w, err)
			return
		}
		writeErrorWithCall(w, err, s.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *api) handleStopCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.calls.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	s, err := a.calls.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleCallEvent accepts provider webhook messages for a call.
func (a *api) handleCallEvent(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	ev, err := voice.DecodeMessage(data)
	if errors.Is(err, voice.ErrIgnoredMessage) {
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": false})
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.calls.Deliver(chi.URLParam(r, "id"), ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (a *api) handleGeneratePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": "Thank you!"})
}

// generateRequest accepts amount as a number or a numeric string, since voice
// agents tend to send the latter.
type generateRequest struct {
	Type      string      `json:"type"`
	Role      string      `json:"role"`
	Level     string      `json:"level"`
	Techstack string      `json:"techstack"`
	Amount    flexibleInt `json:"amount"`
	UserID    string      `json:"userid"`
}

type flexibleInt int

func (n *flexibleInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("amount must be a whole number, got %s", data)
	}
	*n = flexibleInt(v)
	return nil
}

func (a *api) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if a.generator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "question generation is not configured"})
		return
	}

	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	iv, err := a.generator.Generate(r.Context(), domain.Setup{
		Role:      req.Role,
		Level:     req.Level,
		Type:      req.Type,
		Techstack: req.Techstack,
		Amount:    int(req.Amount),
		UserID:    req.UserID,
	})
	if err != nil {
		status := statusFor(err)
		writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "interviewId": iv.ID})
}

func (a *api) handleListInterviews(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeJSONError(w, http.StatusBadRequest, errUserRequired.Error())
		return
	}
	list, err := a.store.ListInterviewsByUser(r.Context(), uid)
	if err != nil {
		writeError(w, fmt.Errorf("list interviews: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (a *api) handleLatestInterviews(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := a.store.ListLatestInterviews(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, fmt.Errorf("list latest interviews: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (a *api) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	iv, err := a.store.GetInterview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

func (a *api) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeJSONError(w, http.StatusBadRequest, errUserRequired.Error())
		return
	}
	interviewID := chi.URLParam(r, "id")
	fb, err := a.store.GetFeedbackByInterviewAndUser(r.Context(), interviewID, uid)
	if err != nil {
		writeError(w, fmt.Errorf("get feedback: %w", err))
		return
	}
	if fb == nil {
		writeError(w, fmt.Errorf("feedback for interview %s: %w", interviewID, storage.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

func (a *api) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeJSONError(w, http.StatusBadRequest, errUserRequired.Error())
		return
	}
	list, err := a.store.ListFeedbackByUser(r.Context(), uid)
	if err != nil {
		writeError(w, fmt.Errorf("list feedback: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		connErr        *voice.ConnectionError
		sessionInvalid *session.ValidationError
		setupInvalid   *questions.ValidationError
	)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &sessionInvalid), errors.As(err, &setupInvalid):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCallInProgress),
		errors.Is(err, session.ErrSessionFinished),
		errors.Is(err, session.ErrNoActiveCall),
		errors.Is(err, session.ErrUnsupported):
		return http.StatusConflict
	case errors.As(err, &connErr), errors.Is(err, questions.ErrNoQuestions):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func writeErrorWithCall(w http.ResponseWriter, err error, call session.Snapshot) {
	writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "call": call})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
