package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"grantradar/features/grant"
	"grantradar/internal/search"
)

// Evaluator scores one grant against a requirement with a JSON-mode LLM call.
type Evaluator struct {
	client *genai.Client
}

func NewEvaluator(ctx context.Context, apiKey string) (*Evaluator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Evaluator{client: client}, nil
}

func (e *Evaluator) Evaluate(ctx context.Context, req search.Requirement, g grant.Grant) (search.Evaluation, error) {
	text, err := generateJSON(ctx, e.client, evaluationPrompt(req, g))
	if err != nil {
		return search.Evaluation{}, fmt.Errorf("evaluate grant %s: %w", g.ID, err)
	}
	return parseEvaluation(text)
}

func evaluationPrompt(req search.Requirement, g grant.Grant) string {
	var b strings.Builder
	b.WriteString("You are an expert grant evaluator specializing in sustainability initiatives.\n\n")

	b.WriteString("GRANT DETAILS:\n")
	fmt.Fprintf(&b, "Name: %s\n", g.Name)
	fmt.Fprintf(&b, "Agency: %s\n", g.Agency)
	if g.MaxFunding > 0 {
		fmt.Fprintf(&b, "Funding Amount: $%d\n", g.MaxFunding)
	}
	if len(g.EligibilitySummary) > 0 {
		fmt.Fprintf(&b, "Eligibility: %s\n", strings.Join(g.EligibilitySummary, "; "))
	}
	fmt.Fprintf(&b, "Description: %s\n\n", g.Description)

	b.WriteString("PROJECT REQUIREMENTS:\n")
	b.WriteString(req.Text())

	b.WriteString(`
Evaluate this grant and return ONLY a JSON object with this exact structure:
{
    "relevance_score": <0-100>,
    "sustainability_score": <0-100>,
    "overall_score": <0-100>,
    "strengths": ["list", "of", "strengths"],
    "concerns": ["list", "of", "concerns"],
    "recommendation": "HIGHLY_RECOMMENDED | RECOMMENDED | NOT_RECOMMENDED"
}

SCORING CRITERIA:
- relevance_score: How well the grant matches the project's issue area, scope, and KPIs
- sustainability_score: How strongly the grant supports environmental sustainability goals
- overall_score: Weighted average (relevance 60%, sustainability 40%)

Be strict but fair. A score above 70 is excellent, 50-70 is good, below 50 is poor.`)

	return b.String()
}

// parseEvaluation tolerates the model's common deviations: fenced output,
// a missing overall score, and recommendation values outside the contract.
func parseEvaluation(text string) (search.Evaluation, error) {
	var raw struct {
		RelevanceScore      int      `json:"relevance_score"`
		SustainabilityScore int      `json:"sustainability_score"`
		OverallScore        *int     `json:"overall_score"`
		Strengths           []string `json:"strengths"`
		Concerns            []string `json:"concerns"`
		Recommendation      string   `json:"recommendation"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &raw); err != nil {
		return search.Evaluation{}, fmt.Errorf("parse evaluation: %w", err)
	}

	ev := search.Evaluation{
		RelevanceScore:      raw.RelevanceScore,
		SustainabilityScore: raw.SustainabilityScore,
		OverallScore:        -1, // recomputed by Normalized when absent
		Recommendation:      strings.ToUpper(strings.TrimSpace(raw.Recommendation)),
		Strengths:           raw.Strengths,
		Concerns:            raw.Concerns,
	}
	if raw.OverallScore != nil {
		ev.OverallScore = *raw.OverallScore
	}
	return ev.Normalized(), nil
}
