package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/llm"
)

const scoringSystemPrompt = "You are a professional interviewer analyzing a mock interview. Your task is to evaluate the candidate based on structured categories"

const scoringPromptTemplate = `You are an AI interviewer analyzing a mock interview for the role of %s. Your task is to evaluate the candidate based on structured categories. Be thorough and detailed in your analysis. Don't be lenient with the candidate. If there are mistakes or areas for improvement, point them out.
Transcript:
%s
Please score the candidate from 0 to 100 in the following areas. Do not add categories other than the ones provided:
- **Communication Skills**: Clarity, articulation, structured responses.
- **Technical Knowledge**: Understanding of key concepts for the role.
- **Problem Solving**: Ability to analyze problems and propose solutions.
- **Cultural Fit**: Alignment with company values and job role.
- **Confidence and Clarity**: Confidence in responses, engagement, and clarity.

Respond with a single JSON object of this shape and nothing else:
{"totalScore": number, "categoryScores": [{"name": string, "score": number, "comment": string}], "strengths": [string], "areasForImprovement": [string], "finalAssessment": string}`

// LLMScorer grades transcripts with a chat completion model.
type LLMScorer struct {
	client llm.Client
}

func NewLLMScorer(client llm.Client) *LLMScorer {
	return &LLMScorer{client: client}
}

func (s *LLMScorer) Score(ctx context.Context, req ScoreRequest) (domain.Assessment, error) {
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = "the position"
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: scoringSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(scoringPromptTemplate, role, req.Transcript)},
	}

	raw, err := llm.CompleteJSON(ctx, s.client, messages)
	if err != nil {
		return domain.Assessment{}, err
	}
	return ParseAssessment(raw)
}

type assessmentPayload struct {
	TotalScore     *float64 `json:"totalScore"`
	CategoryScores []struct {
		Name    string  `json:"name"`
		Score   float64 `json:"score"`
		Comment string  `json:"comment"`
	} `json:"categoryScores"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areasForImprovement"`
	FinalAssessment     string   `json:"finalAssessment"`
}

// ParseAssessment decodes and validates a scoring response. Categories are
// returned in their fixed order.
func ParseAssessment(raw string) (domain.Assessment, error) {
	var p assessmentPayload
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &p); err != nil {
		return domain.Assessment{}, fmt.Errorf("%w: decode: %v", ErrInvalidAssessment, err)
	}

	if p.TotalScore == nil {
		return domain.Assessment{}, fmt.Errorf("%w: missing totalScore", ErrInvalidAssessment)
	}
	total, err := checkScore("totalScore", *p.TotalScore)
	if err != nil {
		return domain.Assessment{}, err
	}
	if strings.TrimSpace(p.FinalAssessment) == "" {
		return domain.Assessment{}, fmt.Errorf("%w: empty finalAssessment", ErrInvalidAssessment)
	}

	byName := make(map[string]domain.CategoryScore, len(p.CategoryScores))
	for _, c := range p.CategoryScores {
		name := canonicalCategory(c.Name)
		if name == "" {
			return domain.Assessment{}, fmt.Errorf("%w: unknown category %q", ErrInvalidAssessment, c.Name)
		}
		score, err := checkScore(name, c.Score)
		if err != nil {
			return domain.Assessment{}, err
		}
		byName[name] = domain.CategoryScore{Name: name, Score: score, Comment: strings.TrimSpace(c.Comment)}
	}

	categories := make([]domain.CategoryScore, 0, len(domain.Categories))
	for _, name := range domain.Categories {
		c, ok := byName[name]
		if !ok {
			return domain.Assessment{}, fmt.Errorf("%w: missing category %q", ErrInvalidAssessment, name)
		}
		categories = append(categories, c)
	}

	return domain.Assessment{
		TotalScore:          total,
		CategoryScores:      categories,
		Strengths:           cleanList(p.Strengths),
		AreasForImprovement: cleanList(p.AreasForImprovement),
		FinalAssessment:     strings.TrimSpace(p.FinalAssessment),
	}, nil
}

func checkScore(field string, v float64) (int, error) {
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("%w: %s score %v outside 0-100", ErrInvalidAssessment, field, v)
	}
	return int(v + 0.5), nil
}

func canonicalCategory(name string) string {
	name = strings.TrimSpace(strings.Trim(name, "*"))
	idx := slices.IndexFunc(domain.Categories, func(c string) bool {
		return strings.EqualFold(c, name)
	})
	if idx < 0 {
		return ""
	}
	return domain.Categories[idx]
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
