// Package questions generates interview question sets with an LLM and stores
// them as new interviews.
package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/llm"
)

const MaxAmount = 20

var ErrNoQuestions = errors.New("model returned no questions")

// Covers are the interview card images, one picked at random per interview.
var Covers = []string{
	"/covers/adobe.png",
	"/covers/amazon.png",
	"/covers/facebook.png",
	"/covers/hostinger.png",
	"/covers/pinterest.png",
	"/covers/quora.png",
	"/covers/reddit.png",
	"/covers/skype.png",
	"/covers/spotify.png",
	"/covers/telegram.png",
	"/covers/tiktok.png",
	"/covers/yahoo.png",
}

const promptTemplate = `Prepare questions for a job interview.
The job role is %s.
The job experience level is %s.
The tech stack used in the job is: %s.
The focus between behavioural and technical questions should lean towards: %s.
The amount of questions required is: %d.
Please return only the questions, without any additional text.
The questions are going to be read by a voice assistant so do not use "/" or "*" or any other special characters which might break the voice assistant.
Return the questions formatted like this:
["Question 1", "Question 2", "Question 3"]`

type Store interface {
	CreateInterview(ctx context.Context, iv domain.Interview) (string, error)
}

type Generator struct {
	client llm.Client
	store  Store
	logger *slog.Logger
	now    func() time.Time
	pick   func(n int) int
}

type Option func(*Generator)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithPicker replaces the random cover choice. pick returns an index in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(g *Generator) { g.pick = pick }
}

func NewGenerator(client llm.Client, store Store, opts ...Option) *Generator {
	g := &Generator{
		client: client,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		pick:   rand.IntN,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the model for questions matching setup and stores the
// resulting interview. The returned interview carries its new id.
func (g *Generator) Generate(ctx context.Context, setup domain.Setup) (domain.Interview, error) {
	setup, err := Validate(setup)
	if err != nil {
		return domain.Interview{}, err
	}
	logger := g.logger.With("user_id", setup.UserID, "role", setup.Role)

	prompt := fmt.Sprintf(promptTemplate, setup.Role, setup.Level, setup.Techstack, setup.Type, setup.Amount)
	raw, err := llm.CompleteJSON(ctx, g.client, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return domain.Interview{}, fmt.Errorf("generate questions: %w", err)
	}

	questions, err := ParseQuestions(raw)
	if err != nil {
		logger.Warn("unusable question response", "error", err)
		return domain.Interview{}, err
	}

	iv := domain.Interview{
		UserID:     setup.UserID,
		Role:       setup.Role,
		Level:      setup.Level,
		Type:       setup.Type,
		Techstack:  SplitTechstack(setup.Techstack),
		Questions:  questions,
		CoverImage: Covers[g.pick(len(Covers))],
		CreatedAt:  g.now().UTC(),
	}
	id, err := g.store.CreateInterview(ctx, iv)
	if err != nil {
		return domain.Interview{}, fmt.Errorf("store interview: %w", err)
	}
	iv.ID = id

	logger.Info("interview generated", "interview_id", id, "questions", len(questions))
	return iv, nil
}

// Validate trims setup fields and checks they are all present.
func Validate(s domain.Setup) (domain.Setup, error) {
	s.Role = strings.TrimSpace(s.Role)
	s.Level = strings.TrimSpace(s.Level)
	s.Type = strings.TrimSpace(s.Type)
	s.Techstack = strings.TrimSpace(s.Techstack)
	s.UserID = strings.TrimSpace(s.UserID)

	for _, f := range []struct{ name, value string }{
		{"role", s.Role},
		{"level", s.Level},
		{"type", s.Type},
		{"techstack", s.Techstack},
		{"userid", s.UserID},
	} {
		if f.value == "" {
			return s, &ValidationError{Field: f.name, Reason: "is required"}
		}
	}
	if s.Amount < 1 || s.Amount > MaxAmount {
		return s, &ValidationError{Field: "amount", Reason: fmt.Sprintf("must be between 1 and %d", MaxAmount)}
	}
	return s, nil
}

// ParseQuestions decodes a JSON array of questions, tolerating a code fence
// or stray text around the array.
func ParseQuestions(raw string) ([]string, error) {
	text := llm.StripCodeFence(raw)
	if start, end := strings.IndexByte(text, '['), strings.LastIndexByte(text, ']'); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var items []string
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	questions := make([]string, 0, len(items))
	for _, q := range items {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return questions, nil
}

func SplitTechstack(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}
