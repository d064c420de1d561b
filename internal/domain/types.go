package domain

import (
	"fmt"
	"time"

	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

// Mode is the purpose of a call: producing a new question set or running
// through an existing one.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeConduct  Mode = "conduct"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGenerate, ModeConduct:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q: expected generate or conduct", s)
	}
}

// Setup carries the parameters for generating a new interview.
type Setup struct {
	Role      string `json:"role"`
	Level     string `json:"level"`
	Type      string `json:"type"`
	Techstack string `json:"techstack"`
	Amount    int    `json:"amount"`
	UserID    string `json:"userid"`
}

type Interview struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	Level      string    `json:"level"`
	Type       string    `json:"type"`
	Techstack  []string  `json:"techstack"`
	Questions  []string  `json:"questions"`
	Finalized  bool      `json:"finalized"`
	CoverImage string    `json:"cover_image"`
	CreatedAt  time.Time `json:"created_at"`
}

type CategoryScore struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// Assessment is what the scoring service returns for one transcript.
type Assessment struct {
	TotalScore          int             `json:"total_score"`
	CategoryScores      []CategoryScore `json:"category_scores"`
	Strengths           []string        `json:"strengths"`
	AreasForImprovement []string        `json:"areas_for_improvement"`
	FinalAssessment     string          `json:"final_assessment"`
}

type Feedback struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interview_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Assessment
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackRequest is the input for scoring one finished conduct-mode call.
type FeedbackRequest struct {
	InterviewID string
	UserID      string
	Role        string
	Transcript  []transcript.Utterance
}

// Categories are the fixed scoring categories, in prompt order.
var Categories = []string{
	"Communication Skills",
	"Technical Knowledge",
	"Problem Solving",
	"Cultural Fit",
	"Confidence and Clarity",
}
