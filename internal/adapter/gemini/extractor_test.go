package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantradar/features/ingest"
)

func TestParseExtraction(t *testing.T) {
	ext, err := parseExtraction(`{
		"strategic_intent": "grow grassroots sport participation",
		"eligibility_summary": ["registered society", "based in Singapore"],
		"kpis": ["participants", "sessions held"],
		"max_funding": 250000,
		"full_text_context": "The grant supports community sport programmes."
	}`)
	require.NoError(t, err)
	assert.Equal(t, "grow grassroots sport participation", ext.StrategicIntent)
	assert.Len(t, ext.EligibilitySummary, 2)
	assert.Equal(t, int64(250000), ext.MaxFunding)
	assert.NotEmpty(t, ext.FullTextContext)
}

func TestParseExtraction_NullFunding(t *testing.T) {
	ext, err := parseExtraction(`{"strategic_intent": "x", "max_funding": null}`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ext.MaxFunding)
	assert.NotNil(t, ext.EligibilitySummary)
	assert.NotNil(t, ext.KPIs)
}

func TestParseExtraction_Garbage(t *testing.T) {
	_, err := parseExtraction("no json here")
	assert.Error(t, err)
}

func TestExtractionPrompt_PrefersFullText(t *testing.T) {
	raw := ingest.RawGrant{Name: "Sport Fund", Agency: "SportSG", Description: "short", FullText: "long form material"}
	prompt := extractionPrompt(raw)
	assert.Contains(t, prompt, "long form material")
	assert.Contains(t, prompt, "Sport Fund")

	raw.FullText = ""
	prompt = extractionPrompt(raw)
	assert.Contains(t, prompt, "short")
}
