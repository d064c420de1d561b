// Package feedback scores finished interview transcripts and stores the
// result, at most once per interview and user.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/retry"
	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

type Store interface {
	// GetFeedbackByInterviewAndUser returns nil, nil when no feedback exists.
	GetFeedbackByInterviewAndUser(ctx context.Context, interviewID, userID string) (*domain.Feedback, error)
	CreateFeedback(ctx context.Context, fb domain.Feedback) (string, error)
	MarkInterviewFinalized(ctx context.Context, interviewID string) error
}

type ScoreRequest struct {
	Role       string
	Transcript string
}

type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (domain.Assessment, error)
}

type TokenCounter interface {
	Count(text string) (int, error)
}

type Requester struct {
	store     Store
	scorer    Scorer
	counter   TokenCounter
	maxTokens int
	policy    retry.Policy
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Requester)

// WithTokenLimit rejects transcripts whose token count exceeds max.
func WithTokenLimit(counter TokenCounter, max int) Option {
	return func(r *Requester) {
		r.counter = counter
		r.maxTokens = max
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Requester) { r.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Requester) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Requester) { r.now = now }
}

func NewRequester(store Store, scorer Scorer, opts ...Option) *Requester {
	r := &Requester{
		store:  store,
		scorer: scorer,
		policy: retry.Policy{
			Attempts: 3,
			Backoff:  []time.Duration{1 * time.Second, 4 * time.Second},
		},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestFeedback scores the transcript and returns the stored feedback id.
// Existing feedback for the same interview and user is returned as is.
func (r *Requester) RequestFeedback(ctx context.Context, req domain.FeedbackRequest) (string, error) {
	if len(req.Transcript) == 0 {
		return "", ErrEmptyTranscript
	}
	logger := r.logger.With("interview_id", req.InterviewID, "user_id", req.UserID)

	existing, err := r.store.GetFeedbackByInterviewAndUser(ctx, req.InterviewID, req.UserID)
	if err != nil {
		return "", &StoreError{Op: "get feedback", Err: err}
	}
	if existing != nil {
		logger.Info("feedback already exists", "feedback_id", existing.ID)
		if err := r.store.MarkInterviewFinalized(ctx, req.InterviewID); err != nil {
			logger.Warn("finalize interview failed", "error", err)
		}
		return existing.ID, nil
	}

	text := transcript.Format(req.Transcript)
	if r.counter != nil && r.maxTokens > 0 {
		n, err := r.counter.Count(text)
		if err != nil {
			return "", fmt.Errorf("count transcript tokens: %w", err)
		}
		if n > r.maxTokens {
			return "", fmt.Errorf("%w: %d tokens, limit %d", ErrTranscriptTooLong, n, r.maxTokens)
		}
	}

	assessment, err := r.score(ctx, logger, ScoreRequest{Role: req.Role, Transcript: text})
	if err != nil {
		return "", err
	}

	id, err := r.store.CreateFeedback(ctx, domain.Feedback{
		InterviewID: req.InterviewID,
		UserID:      req.UserID,
		Role:        req.Role,
		Assessment:  assessment,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		return "", &StoreError{Op: "create feedback", Err: err}
	}

	if err := r.store.MarkInterviewFinalized(ctx, req.InterviewID); err != nil {
		return "", &StoreError{Op: "finalize interview", Err: err}
	}

	logger.Info("feedback stored", "feedback_id", id, "total_score", assessment.TotalScore)
	return id, nil
}

func (r *Requester) score(ctx context.Context, logger *slog.Logger, req ScoreRequest) (domain.Assessment, error) {
	var (
		assessment domain.Assessment
		lastErr    error
	)
	attempts, ok, err := r.policy.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		a, err := r.scorer.Score(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			lastErr = err
			logger.Warn("scoring attempt failed", "attempt", attempt+1, "error", err)
			return false, nil
		}
		assessment = a
		return true, nil
	})
	if err != nil {
		// Cancellation stays matchable through errors.Is.
		return domain.Assessment{}, &ScoringError{Attempts: attempts, Err: err}
	}
	if !ok {
		return domain.Assessment{}, &ScoringError{Attempts: attempts, Err: lastErr}
	}
	return assessment, nil
}
