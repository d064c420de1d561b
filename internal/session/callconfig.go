package session

import (
	"strings"

	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/voice"
)

const (
	defaultQuestionAmount = 5
	defaultRoleLabel      = "Interview"
)

// generateCallConfig starts the workflow that collects interview setup from
// the candidate and generates questions.
func generateCallConfig(assistantID, userName string, req CreateRequest) voice.CallConfig {
	amount := req.Setup.Amount
	if amount <= 0 {
		amount = defaultQuestionAmount
	}
	return voice.CallConfig{
		AssistantID: assistantID,
		Variables: map[string]any{
			"username":  userName,
			"userid":    req.UserID,
			"role":      req.Setup.Role,
			"level":     req.Setup.Level,
			"type":      req.Setup.Type,
			"techstack": req.Setup.Techstack,
			"amount":    amount,
		},
	}
}

// conductCallConfig starts the interviewer agent over a stored question set.
func conductCallConfig(assistantID string, interview domain.Interview) voice.CallConfig {
	return voice.CallConfig{
		AssistantID: assistantID,
		Variables: map[string]any{
			"questions": formatQuestions(interview.Questions),
		},
	}
}

// formatQuestions renders one "-<question>" line per question.
func formatQuestions(questions []string) string {
	lines := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			lines = append(lines, "-"+q)
		}
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role string) string {
	if strings.TrimSpace(role) == "" {
		return defaultRoleLabel
	}
	return role
}
