package search

import (
	"fmt"
	"strings"
)

// Requirement is what the caller is looking for. ScopeOfGrant carries the
// substance of the query; the rest sharpens the embedding and the evaluator
// prompt.
type Requirement struct {
	IssueArea      string   `json:"issue_area"`
	ScopeOfGrant   string   `json:"scope_of_grant"`
	KPIs           []string `json:"kpis"`
	FundingQuantum float64  `json:"funding_quantum"`
}

func (r Requirement) Validate() error {
	if strings.TrimSpace(r.ScopeOfGrant) == "" {
		return &ValidationError{Field: "scope_of_grant", Reason: "must not be empty"}
	}
	if r.FundingQuantum < 0 {
		return &ValidationError{Field: "funding_quantum", Reason: "must not be negative"}
	}
	return nil
}

// Text renders the requirement as the single document that gets embedded.
func (r Requirement) Text() string {
	var b strings.Builder
	if r.IssueArea != "" {
		fmt.Fprintf(&b, "Issue Area: %s\n", r.IssueArea)
	}
	fmt.Fprintf(&b, "Scope: %s\n", r.ScopeOfGrant)
	if len(r.KPIs) > 0 {
		fmt.Fprintf(&b, "Key Performance Indicators: %s\n", strings.Join(r.KPIs, ", "))
	}
	if r.FundingQuantum > 0 {
		fmt.Fprintf(&b, "Desired Funding: %.0f\n", r.FundingQuantum)
	}
	return b.String()
}

const (
	RecommendationHighly   = "HIGHLY_RECOMMENDED"
	RecommendationStandard = "RECOMMENDED"
	RecommendationNegative = "NOT_RECOMMENDED"
	RecommendationUnscored = "NOT_SCORED"
)

// Evaluation is the evaluator's verdict for one grant. Scores are 0-100;
// the overall score weighs relevance at 0.6 and sustainability at 0.4.
type Evaluation struct {
	RelevanceScore      int      `json:"relevance_score"`
	SustainabilityScore int      `json:"sustainability_score"`
	OverallScore        int      `json:"overall_score"`
	Recommendation      string   `json:"recommendation"`
	Strengths           []string `json:"strengths"`
	Concerns            []string `json:"concerns"`
}

// Normalized returns a copy with scores clamped to 0-100, the overall score
// recomputed from the 0.6/0.4 weighting when it is out of range, and unknown
// recommendation values collapsed to NOT_SCORED.
func (e Evaluation) Normalized() Evaluation {
	e.RelevanceScore = clampScore(e.RelevanceScore)
	e.SustainabilityScore = clampScore(e.SustainabilityScore)
	if e.OverallScore < 0 || e.OverallScore > 100 {
		e.OverallScore = WeightedOverall(e.RelevanceScore, e.SustainabilityScore)
	}
	switch e.Recommendation {
	case RecommendationHighly, RecommendationStandard, RecommendationNegative:
	default:
		e.Recommendation = RecommendationUnscored
	}
	if e.Strengths == nil {
		e.Strengths = []string{}
	}
	if e.Concerns == nil {
		e.Concerns = []string{}
	}
	return e
}

// WeightedOverall combines relevance and sustainability at 0.6/0.4, rounded
// to the nearest integer.
func WeightedOverall(relevance, sustainability int) int {
	return int(0.6*float64(relevance) + 0.4*float64(sustainability) + 0.5)
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Candidate is one vector-index hit, before hydration and evaluation.
type Candidate struct {
	GrantID   string
	Certainty float64
}

// GrantMatch is the wire shape for one evaluated grant in the stream result.
type GrantMatch struct {
	GrantID        string     `json:"grant_id"`
	GrantName      string     `json:"grant_name"`
	Agency         string     `json:"agency"`
	FundingAmount  int64      `json:"funding_amount"`
	Deadline       *string    `json:"deadline"`
	DetailsURL     string     `json:"details_url"`
	ApplicationURL string     `json:"application_url"`
	Evaluation     Evaluation `json:"evaluation"`
}

// Result is the payload of the terminal complete frame.
type Result struct {
	Success    bool         `json:"success"`
	Grants     []GrantMatch `json:"grants"`
	TotalFound int          `json:"total_found"`
}
