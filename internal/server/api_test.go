package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/mock-interviewer/internal/dispatch"
	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/questions"
	"github.com/sjawhar/mock-interviewer/internal/session"
	"github.com/sjawhar/mock-interviewer/internal/storage"
	"github.com/sjawhar/mock-interviewer/internal/voice"
)

type apiStoreStub struct {
	interviews map[string]domain.Interview
	byUser     map[string][]domain.Interview
	latest     []domain.Interview
	feedback   map[string]*domain.Feedback
	history    []domain.Feedback

	mu          sync.Mutex
	latestCalls []string
	latestLimit int
}

func (s *apiStoreStub) GetInterview(_ context.Context, id string) (domain.Interview, error) {
	iv, ok := s.interviews[id]
	if !ok {
		return domain.Interview{}, fmt.Errorf("interview %s: %w", id, storage.ErrNotFound)
	}
	return iv, nil
}

func (s *apiStoreStub) ListInterviewsByUser(_ context.Context, userID string) ([]domain.Interview, error) {
	return s.byUser[userID], nil
}

func (s *apiStoreStub) ListLatestInterviews(_ context.Context, exclude string, limit int) ([]domain.Interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestCalls = append(s.latestCalls, exclude)
	s.latestLimit = limit
	return s.latest, nil
}

func (s *apiStoreStub) GetFeedbackByInterviewAndUser(_ context.Context, interviewID, userID string) (*domain.Feedback, error) {
	return s.feedback[interviewID+"/"+userID], nil
}

func (s *apiStoreStub) ListFeedbackByUser(_ context.Context, _ string) ([]domain.Feedback, error) {
	return s.history, nil
}

type dispatcherStub struct{}

func (dispatcherStub) Dispatch(_ context.Context, req dispatch.Request) domain.Action {
	if req.Mode == domain.ModeConduct {
		return domain.NavigateFeedback(req.InterviewID)
	}
	return domain.NavigateHome("test")
}

type generatorStub struct {
	got []domain.Setup
	err error
}

func (g *generatorStub) Generate(_ context.Context, setup domain.Setup) (domain.Interview, error) {
	g.got = append(g.got, setup)
	if g.err != nil {
		return domain.Interview{}, g.err
	}
	return domain.Interview{ID: "iv-new"}, nil
}

type failingVoice struct{}

func (failingVoice) Start(context.Context, voice.CallConfig) (voice.Connection, error) {
	return nil, &voice.ConnectionError{Provider: "relay", Err: errors.New("dial refused")}
}

type testEnv struct {
	handler   http.Handler
	store     *apiStoreStub
	generator *generatorStub
	hub       *Hub
	calls     *session.Manager
}

func newTestEnv(t *testing.T, voiceSvc voice.Service) *testEnv {
	t.Helper()
	store := &apiStoreStub{
		interviews: map[string]domain.Interview{
			"i1": {ID: "i1", UserID: "u1", Role: "Backend Engineer", Questions: []string{"What is a mutex?"}},
		},
		byUser:   map[string][]domain.Interview{"u1": {{ID: "i1", UserID: "u1"}}},
		latest:   []domain.Interview{{ID: "i9", UserID: "u9", Finalized: true}},
		feedback: map[string]*domain.Feedback{"i1/u1": {ID: "fb1", InterviewID: "i1", UserID: "u1"}},
		history:  []domain.Feedback{{ID: "fb1"}},
	}
	hub := NewHub(nil)
	calls := session.NewManager(session.ManagerConfig{}, voiceSvc, dispatcherStub{}, store, hub, nil, nil)
	t.Cleanup(calls.Shutdown)

	gen := &generatorStub{}
	h := Handler(Deps{
		Calls:     calls,
		Store:     store,
		Generator: gen,
		Hub:       hub,
		Warnings:  func() []string { return []string{"relay url missing"} },
	})
	return &testEnv{handler: h, store: store, generator: gen, hub: hub, calls: calls}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func waitCallStatus(t *testing.T, e *testEnv, id string, want session.Status) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr := e.do(t, http.MethodGet, "/api/calls/"+id, "")
		snap := decodeJSON[session.Snapshot](t, rr)
		if snap.Status == want && (want != session.StatusFinished || snap.Outcome != nil) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for status %s, last %+v", want, snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConductCallOverWebhook(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())
	events := e.hub.Subscribe("")
	defer e.hub.Unsubscribe(events)

	rr := e.do(t, http.MethodPost, "/api/calls", `{"mode":"conduct","interview_id":"i1"}`, "X-User-ID", "u1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	snap := decodeJSON[session.Snapshot](t, rr)
	if snap.Status != session.StatusConnecting || snap.UserID != "u1" || snap.InterviewID != "i1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	id := snap.ID

	for _, msg := range []string{
		`{"type":"call-start"}`,
		`{"type":"transcript","role":"assistant","transcriptType":"final","transcript":"What is a mutex?"}`,
		`{"type":"transcript","role":"user","transcriptType":"partial","transcript":"A lo"}`,
		`{"type":"transcript","role":"user","transcriptType":"final","transcript":"A lock."}`,
	} {
		if rr := e.do(t, http.MethodPost, "/api/calls/"+id+"/events", msg); rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202 for %s, got %d: %s", msg, rr.Code, rr.Body.String())
		}
	}
	waitCallStatus(t, e, id, session.StatusActive)

	if rr := e.do(t, http.MethodPost, "/api/calls/"+id+"/events", `{"type":"call-end"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for call-end, got %d", rr.Code)
	}
	final := waitCallStatus(t, e, id, session.StatusFinished)
	if final.Outcome.Path != "/interview/i1/feedback" {
		t.Fatalf("expected feedback navigation, got %+v", final.Outcome)
	}
	if len(final.Transcript) != 2 || final.Transcript[1].Text != "A lock." {
		t.Fatalf("expected two final utterances, got %+v", final.Transcript)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-events:
			var payload map[string]any
			if err := json.Unmarshal(msg, &payload); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if payload["type"] == "navigate" {
				if payload["path"] != "/interview/i1/feedback" || payload["call_id"] != id {
					t.Fatalf("unexpected navigate event: %v", payload)
				}
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for navigate event")
		}
	}
}

func TestCreateCallErrors(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())

	tests := []struct {
		name string
		body string
		user string
		want int
	}{
		{name: "bad json", body: `{`, user: "u1", want: http.StatusBadRequest},
		{name: "missing user", body: `{"mode":"generate"}`, want: http.StatusBadRequest},
		{name: "bad mode", body: `{"mode":"karaoke"}`, user: "u1", want: http.StatusBadRequest},
		{name: "unknown interview", body: `{"mode":"conduct","interview_id":"nope"}`, user: "u1", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, "/api/calls", tt.body, "X-User-ID", tt.user)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if body := decodeJSON[map[string]any](t, rr); body["error"] == nil {
				t.Fatalf("expected error field, got %v", body)
			}
		})
	}
}

func TestCreateCallRejectsSecondLiveCall(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())

	if rr := e.do(t, http.MethodPost, "/api/calls", `{"mode":"generate","userid":"u1"}`); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr := e.do(t, http.MethodPost, "/api/calls", `{"mode":"generate","userid":"u1"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateCallConnectFailure(t *testing.T) {
	e := newTestEnv(t, failingVoice{})

	rr := e.do(t, http.MethodPost, "/api/calls", `{"mode":"generate"}`, "X-User-ID", "u1")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON[struct {
		Error string           `json:"error"`
		Call  session.Snapshot `json:"call"`
	}](t, rr)
	if body.Call.Status != session.StatusInactive {
		t.Fatalf("expected session back to inactive, got %q", body.Call.Status)
	}
	if !strings.Contains(body.Error, "dial refused") {
		t.Fatalf("expected cause in error, got %q", body.Error)
	}

	retry := e.do(t, http.MethodPost, "/api/calls/"+body.Call.ID+"/start", "")
	if retry.Code != http.StatusBadGateway {
		t.Fatalf("expected retry to fail with 502, got %d", retry.Code)
	}
}

func TestCallNotFound(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/calls/missing", ""},
		{http.MethodPost, "/api/calls/missing/stop", ""},
		{http.MethodPost, "/api/calls/missing/start", ""},
		{http.MethodPost, "/api/calls/missing/events", `{"type":"call-start"}`},
	} {
		if rr := e.do(t, tc.method, tc.path, tc.body); rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestStopCall(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())

	rr := e.do(t, http.MethodPost, "/api/calls", `{"mode":"generate"}`, "X-User-ID", "u1")
	id := decodeJSON[session.Snapshot](t, rr).ID

	stop := e.do(t, http.MethodPost, "/api/calls/"+id+"/stop", "")
	if stop.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", stop.Code, stop.Body.String())
	}
	if snap := decodeJSON[session.Snapshot](t, stop); snap.Status != session.StatusFinished {
		t.Fatalf("expected finished after stop, got %q", snap.Status)
	}
	waitCallStatus(t, e, id, session.StatusFinished)

	if again := e.do(t, http.MethodPost, "/api/calls/"+id+"/stop", ""); again.Code != http.StatusOK {
		t.Fatalf("expected repeated stop to succeed, got %d", again.Code)
	}
	if start := e.do(t, http.MethodPost, "/api/calls/"+id+"/start", ""); start.Code != http.StatusConflict {
		t.Fatalf("expected 409 restarting finished call, got %d", start.Code)
	}
}

func TestCallEventDecoding(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())
	rr := e.do(t, http.MethodPost, "/api/calls", `{"mode":"generate"}`, "X-User-ID", "u1")
	id := decodeJSON[session.Snapshot](t, rr).ID

	ignored := e.do(t, http.MethodPost, "/api/calls/"+id+"/events", `{"type":"model-output"}`)
	if ignored.Code != http.StatusAccepted || decodeJSON[map[string]any](t, ignored)["accepted"] != false {
		t.Fatalf("expected ignored message accepted=false, got %d %s", ignored.Code, ignored.Body.String())
	}
	if bad := e.do(t, http.MethodPost, "/api/calls/"+id+"/events", `not json`); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", bad.Code)
	}
	if untyped := e.do(t, http.MethodPost, "/api/calls/"+id+"/events", `{}`); untyped.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing type, got %d", untyped.Code)
	}
}

func TestGenerateRoute(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())

	ping := e.do(t, http.MethodGet, "/api/vapi/generate", "")
	if ping.Code != http.StatusOK || decodeJSON[map[string]any](t, ping)["success"] != true {
		t.Fatalf("expected ping success, got %d %s", ping.Code, ping.Body.String())
	}

	rr := e.do(t, http.MethodPost, "/api/vapi/generate", `{"type":"technical","role":"SRE","level":"Mid","techstack":"Go,K8s","amount":"5","userid":"u1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON[map[string]any](t, rr)
	if body["success"] != true || body["interviewId"] != "iv-new" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(e.generator.got) != 1 || e.generator.got[0].Amount != 5 || e.generator.got[0].Techstack != "Go,K8s" {
		t.Fatalf("unexpected setup passed to generator: %+v", e.generator.got)
	}

	if bad := e.do(t, http.MethodPost, "/api/vapi/generate", `{"amount":"five"}`); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric amount, got %d", bad.Code)
	}

	e.generator.err = &questions.ValidationError{Field: "role", Reason: "is required"}
	invalid := e.do(t, http.MethodPost, "/api/vapi/generate", `{"amount":3}`)
	if invalid.Code != http.StatusBadRequest || decodeJSON[map[string]any](t, invalid)["success"] != false {
		t.Fatalf("expected 400 validation failure, got %d %s", invalid.Code, invalid.Body.String())
	}

	e.generator.err = errors.New("model unavailable")
	if failed := e.do(t, http.MethodPost, "/api/vapi/generate", `{"amount":3}`); failed.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", failed.Code)
	}
}

func TestInterviewRoutes(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())

	if rr := e.do(t, http.MethodGet, "/api/interviews", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user, got %d", rr.Code)
	}

	rr := e.do(t, http.MethodGet, "/api/interviews?user_id=u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeJSON[[]domain.Interview](t, rr); len(got) != 1 || got[0].ID != "i1" {
		t.Fatalf("unexpected interviews: %+v", got)
	}

	empty := e.do(t, http.MethodGet, "/api/interviews", "", "X-User-ID", "nobody")
	if strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", empty.Body.String())
	}

	latest := e.do(t, http.MethodGet, "/api/interviews/latest?limit=5", "", "X-User-ID", "u1")
	if latest.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", latest.Code)
	}
	if got := decodeJSON[[]domain.Interview](t, latest); len(got) != 1 || got[0].ID != "i9" {
		t.Fatalf("unexpected latest: %+v", got)
	}
	if e.store.latestCalls[0] != "u1" || e.store.latestLimit != 5 {
		t.Fatalf("expected exclude u1 limit 5, got %v %d", e.store.latestCalls, e.store.latestLimit)
	}
	if bad := e.do(t, http.MethodGet, "/api/interviews/latest?limit=x", ""); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", bad.Code)
	}

	if got := e.do(t, http.MethodGet, "/api/interviews/i1", ""); got.Code != http.StatusOK {
		t.Fatalf("expected 200 for interview, got %d", got.Code)
	}
	if missing := e.do(t, http.MethodGet, "/api/interviews/nope", ""); missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestFeedbackRoutes(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())

	rr := e.do(t, http.MethodGet, "/api/interviews/i1/feedback", "", "X-User-ID", "u1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if fb := decodeJSON[domain.Feedback](t, rr); fb.ID != "fb1" {
		t.Fatalf("unexpected feedback: %+v", fb)
	}

	if missing := e.do(t, http.MethodGet, "/api/interviews/i1/feedback", "", "X-User-ID", "u2"); missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for other user, got %d", missing.Code)
	}
	if anon := e.do(t, http.MethodGet, "/api/interviews/i1/feedback", ""); anon.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user, got %d", anon.Code)
	}

	list := e.do(t, http.MethodGet, "/api/feedback", "", "X-User-ID", "u1")
	if got := decodeJSON[[]domain.Feedback](t, list); len(got) != 1 {
		t.Fatalf("unexpected feedback list: %+v", got)
	}
}

func TestStatusAndRequestID(t *testing.T) {
	e := newTestEnv(t, voice.NewPushService())

	rr := e.do(t, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected json content type, got %q", got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
	body := decodeJSON[struct {
		Warnings []string `json:"warnings"`
	}](t, rr)
	if len(body.Warnings) != 1 || body.Warnings[0] != "relay url missing" {
		t.Fatalf("unexpected warnings: %v", body.Warnings)
	}

	echoed := e.do(t, http.MethodGet, "/api/status", "", "X-Request-ID", "req-42")
	if echoed.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected client request id echoed, got %q", echoed.Header().Get("X-Request-ID"))
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", storage.ErrNotFound), http.StatusNotFound},
		{session.ErrNotFound, http.StatusNotFound},
		{&session.ValidationError{Field: "userid", Reason: "is required"}, http.StatusBadRequest},
		{session.ErrCallInProgress, http.StatusConflict},
		{session.ErrUnsupported, http.StatusConflict},
		{&voice.ConnectionError{Provider: "relay", Err: errors.New("x")}, http.StatusBadGateway},
		{questions.ErrNoQuestions, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
