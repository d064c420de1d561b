package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/retry"
	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

type lookupMock struct {
	mu        sync.Mutex
	responses [][]domain.Interview
	errs      []error
	calls     int
}

func (l *lookupMock) ListInterviewsByUser(_ context.Context, _ string) ([]domain.Interview, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.calls
	l.calls++
	if i < len(l.errs) && l.errs[i] != nil {
		return nil, l.errs[i]
	}
	if i < len(l.responses) {
		return l.responses[i], nil
	}
	return nil, nil
}

type feedbackMock struct {
	id    string
	err   error
	calls []domain.FeedbackRequest
}

func (f *feedbackMock) RequestFeedback(_ context.Context, req domain.FeedbackRequest) (string, error) {
	f.calls = append(f.calls, req)
	return f.id, f.err
}

type waitRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	w.mu.Unlock()
	return ctx.Err()
}

func newPollDispatcher(lookup InterviewLookup, waits *waitRecorder) *Dispatcher {
	return New(lookup, &feedbackMock{}, WithPollPolicy(retry.Policy{
		Attempts: DefaultPollAttempts,
		Delay:    DefaultPollInterval,
		Wait:     waits.wait,
	}))
}

func TestGenerateFindsInterviewOnThirdAttempt(t *testing.T) {
	lookup := &lookupMock{responses: [][]domain.Interview{
		nil,
		{},
		{{ID: "iv-new"}, {ID: "iv-old"}},
	}}
	waits := &waitRecorder{}

	action := newPollDispatcher(lookup, waits).Dispatch(context.Background(), Request{
		Mode:   domain.ModeGenerate,
		UserID: "u1",
	})

	if action.Path != "/interview/iv-new" {
		t.Fatalf("expected navigation to newest interview, got %#v", action)
	}
	if lookup.calls != 3 {
		t.Fatalf("expected 3 lookups, got %d", lookup.calls)
	}
	if len(waits.delays) != 2 || waits.delays[0] != 2*time.Second || waits.delays[1] != 2*time.Second {
		t.Fatalf("expected two 2s waits, got %v", waits.delays)
	}
}

func TestGenerateExhaustionNavigatesHome(t *testing.T) {
	lookup := &lookupMock{}
	waits := &waitRecorder{}

	action := newPollDispatcher(lookup, waits).Dispatch(context.Background(), Request{
		Mode:   domain.ModeGenerate,
		UserID: "u1",
	})

	if !action.IsHome() {
		t.Fatalf("expected home, got %#v", action)
	}
	if lookup.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", lookup.calls)
	}
	if len(waits.delays) != 2 {
		t.Fatalf("expected no wait after the last attempt, got %v", waits.delays)
	}
}

func TestGenerateStoreErrorCountsAsEmptyAttempt(t *testing.T) {
	lookup := &lookupMock{
		errs:      []error{errors.New("store unavailable")},
		responses: [][]domain.Interview{nil, {{ID: "iv-1"}}},
	}

	action := newPollDispatcher(lookup, &waitRecorder{}).Dispatch(context.Background(), Request{
		Mode:   domain.ModeGenerate,
		UserID: "u1",
	})

	if action.Path != "/interview/iv-1" {
		t.Fatalf("expected recovery on second attempt, got %#v", action)
	}
	if lookup.calls != 2 {
		t.Fatalf("expected 2 lookups, got %d", lookup.calls)
	}
}

func TestGenerateCancellationStopsPolling(t *testing.T) {
	lookup := &lookupMock{}
	ctx, cancel := context.WithCancel(context.Background())

	d := New(lookup, &feedbackMock{}, WithPollPolicy(retry.Policy{
		Attempts: DefaultPollAttempts,
		Delay:    time.Hour,
	}))

	done := make(chan domain.Action, 1)
	go func() {
		done <- d.Dispatch(ctx, Request{Mode: domain.ModeGenerate, UserID: "u1"})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case action := <-done:
		if !action.IsHome() || action.Reason != "cancelled" {
			t.Fatalf("expected cancelled home navigation, got %#v", action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}

	lookup.mu.Lock()
	defer lookup.mu.Unlock()
	if lookup.calls != 1 {
		t.Fatalf("expected a single lookup before cancellation, got %d", lookup.calls)
	}
}

func TestConductSuccessNavigatesToFeedback(t *testing.T) {
	fb := &feedbackMock{id: "fb-1"}
	d := New(&lookupMock{}, fb)

	utterances := []transcript.Utterance{{Speaker: transcript.SpeakerUser, Text: "Hi"}}
	action := d.Dispatch(context.Background(), Request{
		Mode:        domain.ModeConduct,
		SessionID:   "s1",
		UserID:      "u1",
		InterviewID: "i1",
		Role:        "Backend Engineer",
		Transcript:  utterances,
	})

	if action.Path != "/interview/i1/feedback" {
		t.Fatalf("expected feedback navigation, got %#v", action)
	}
	if len(fb.calls) != 1 {
		t.Fatalf("expected one feedback request, got %d", len(fb.calls))
	}
	got := fb.calls[0]
	if got.InterviewID != "i1" || got.UserID != "u1" || got.Role != "Backend Engineer" || len(got.Transcript) != 1 {
		t.Fatalf("unexpected feedback request %#v", got)
	}
}

func TestConductFailureNavigatesHome(t *testing.T) {
	fb := &feedbackMock{err: errors.New("scoring down")}
	action := New(&lookupMock{}, fb).Dispatch(context.Background(), Request{
		Mode:        domain.ModeConduct,
		InterviewID: "i1",
		UserID:      "u1",
	})
	if !action.IsHome() || action.Reason != "feedback failed" {
		t.Fatalf("expected home after failure, got %#v", action)
	}
}

func TestConductDoesNotPoll(t *testing.T) {
	lookup := &lookupMock{}
	New(lookup, &feedbackMock{id: "fb"}).Dispatch(context.Background(), Request{
		Mode:        domain.ModeConduct,
		InterviewID: "i1",
	})
	if lookup.calls != 0 {
		t.Fatalf("expected no interview lookups, got %d", lookup.calls)
	}
}

func TestConductCancelledBeforeStart(t *testing.T) {
	fb := &feedbackMock{id: "fb"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	action := New(&lookupMock{}, fb).Dispatch(ctx, Request{Mode: domain.ModeConduct, InterviewID: "i1"})
	if !action.IsHome() || len(fb.calls) != 0 {
		t.Fatalf("expected home without feedback call, got %#v calls=%d", action, len(fb.calls))
	}
}

func TestUnknownModeNavigatesHome(t *testing.T) {
	action := New(&lookupMock{}, &feedbackMock{}).Dispatch(context.Background(), Request{Mode: "replay"})
	if !action.IsHome() {
		t.Fatalf("expected home, got %#v", action)
	}
}
