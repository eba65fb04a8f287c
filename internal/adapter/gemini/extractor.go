package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"grantradar/features/ingest"
)

// Extractor structures raw feed text into the slow-path grant fields.
type Extractor struct {
	client *genai.Client
}

func NewExtractor(ctx context.Context, apiKey string) (*Extractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Extractor{client: client}, nil
}

func (e *Extractor) Extract(ctx context.Context, raw ingest.RawGrant) (ingest.Extraction, error) {
	text, err := generateJSON(ctx, e.client, extractionPrompt(raw))
	if err != nil {
		return ingest.Extraction{}, fmt.Errorf("extract grant %s: %w", raw.ID, err)
	}
	return parseExtraction(text)
}

func extractionPrompt(raw ingest.RawGrant) string {
	var b strings.Builder
	b.WriteString("You are a grants analyst. Read the grant material below and return ONLY a JSON object with this exact structure:\n")
	b.WriteString(`{
    "strategic_intent": "Deep analysis of the hidden policy goal",
    "eligibility_summary": ["List", "of", "criteria"],
    "kpis": ["List", "of", "KPIs"],
    "max_funding": 100000,
    "full_text_context": "A comprehensive plain-text summary suitable for semantic search."
}
`)
	b.WriteString("Use null for max_funding if no amount is stated.\n\n")
	fmt.Fprintf(&b, "GRANT NAME: %s\n", raw.Name)
	fmt.Fprintf(&b, "AGENCY: %s\n", raw.Agency)
	b.WriteString("MATERIAL:\n")
	if raw.FullText != "" {
		b.WriteString(raw.FullText)
	} else {
		b.WriteString(raw.Description)
	}
	return b.String()
}

func parseExtraction(text string) (ingest.Extraction, error) {
	var raw struct {
		StrategicIntent    string   `json:"strategic_intent"`
		EligibilitySummary []string `json:"eligibility_summary"`
		KPIs               []string `json:"kpis"`
		MaxFunding         *int64   `json:"max_funding"`
		FullTextContext    string   `json:"full_text_context"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &raw); err != nil {
		return ingest.Extraction{}, fmt.Errorf("parse extraction: %w", err)
	}

	ext := ingest.Extraction{
		StrategicIntent:    raw.StrategicIntent,
		EligibilitySummary: raw.EligibilitySummary,
		KPIs:               raw.KPIs,
		FullTextContext:    raw.FullTextContext,
	}
	if raw.MaxFunding != nil && *raw.MaxFunding > 0 {
		ext.MaxFunding = *raw.MaxFunding
	}
	if ext.EligibilitySummary == nil {
		ext.EligibilitySummary = []string{}
	}
	if ext.KPIs == nil {
		ext.KPIs = []string{}
	}
	return ext, nil
}
