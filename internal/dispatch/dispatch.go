// Package dispatch decides where a user goes once a call has finished.
//
// Generate calls hand question generation to the voice agent, which writes
// the resulting interview asynchronously, so the dispatcher polls the store
// for it with a bounded budget. Conduct calls are scored synchronously by the
// feedback requester. Every failure lands on the home page; Dispatch never
// returns an error.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/retry"
	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

const (
	DefaultPollAttempts = 3
	DefaultPollInterval = 2 * time.Second
)

// ErrLookupExhausted is logged when polling never found the generated
// interview. It is never returned.
var ErrLookupExhausted = errors.New("interview lookup exhausted")

type InterviewLookup interface {
	// ListInterviewsByUser returns the user's interviews, newest first.
	ListInterviewsByUser(ctx context.Context, userID string) ([]domain.Interview, error)
}

type FeedbackRequester interface {
	RequestFeedback(ctx context.Context, req domain.FeedbackRequest) (string, error)
}

// Request is everything known about a finished call.
type Request struct {
	Mode        domain.Mode
	SessionID   string
	UserID      string
	InterviewID string
	Role        string
	Transcript  []transcript.Utterance
}

type Dispatcher struct {
	lookup   InterviewLookup
	feedback FeedbackRequester
	poll     retry.Policy
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Dispatcher)

// WithPollPolicy overrides the generate-mode polling budget.
func WithPollPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.poll = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func New(lookup InterviewLookup, feedback FeedbackRequester, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		lookup:   lookup,
		feedback: feedback,
		poll:     retry.Fixed(DefaultPollAttempts, DefaultPollInterval),
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/sjawhar/mock-interviewer/internal/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) domain.Action {
	ctx, span := d.tracer.Start(ctx, "dispatch."+string(req.Mode), trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("user.id", req.UserID),
		attribute.Int("transcript.utterances", len(req.Transcript)),
	))
	defer span.End()

	logger := d.logger.With("session_id", req.SessionID, "user_id", req.UserID, "mode", string(req.Mode))

	var action domain.Action
	switch req.Mode {
	case domain.ModeGenerate:
		action = d.awaitInterview(ctx, logger, req.UserID)
	case domain.ModeConduct:
		action = d.requestFeedback(ctx, logger, req)
	default:
		logger.Error("unknown call mode")
		action = domain.NavigateHome("unknown mode")
	}

	span.SetAttributes(attribute.String("navigate.path", action.Path))
	if action.IsHome() {
		span.SetStatus(codes.Error, action.Reason)
	}
	return action
}

func (d *Dispatcher) awaitInterview(ctx context.Context, logger *slog.Logger, userID string) domain.Action {
	var found domain.Interview
	attempts, ok, err := d.poll.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		interviews, err := d.lookup.ListInterviewsByUser(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			logger.Warn("interview lookup failed", "attempt", attempt+1, "error", err)
			return false, nil
		}
		if len(interviews) == 0 {
			return false, nil
		}
		// The newest interview is taken to be the one this call generated.
		found = interviews[0]
		return true, nil
	})

	switch {
	case err != nil:
		logger.Info("interview polling cancelled", "attempts", attempts, "error", err)
		return domain.NavigateHome("cancelled")
	case !ok:
		logger.Warn("generated interview not found", "attempts", attempts, "error", ErrLookupExhausted)
		return domain.NavigateHome(ErrLookupExhausted.Error())
	}

	logger.Info("generated interview found", "interview_id", found.ID, "attempts", attempts)
	return domain.NavigateInterview(found.ID)
}

func (d *Dispatcher) requestFeedback(ctx context.Context, logger *slog.Logger, req Request) domain.Action {
	if err := ctx.Err(); err != nil {
		return domain.NavigateHome("cancelled")
	}

	feedbackID, err := d.feedback.RequestFeedback(ctx, domain.FeedbackRequest{
		InterviewID: req.InterviewID,
		UserID:      req.UserID,
		Role:        req.Role,
		Transcript:  req.Transcript,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("feedback request cancelled", "interview_id", req.InterviewID)
			return domain.NavigateHome("cancelled")
		}
		logger.Error("feedback request failed", "interview_id", req.InterviewID, "error", err)
		return domain.NavigateHome("feedback failed")
	}

	logger.Info("feedback ready", "interview_id", req.InterviewID, "feedback_id", feedbackID)
	return domain.NavigateFeedback(req.InterviewID)
}
