package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

const generationModel = "gemini-1.5-flash"

// generateJSON runs one JSON-mode generation and returns the raw text of the
// first candidate.
func generateJSON(ctx context.Context, client *genai.Client, prompt string) (string, error) {
	model := client.GenerativeModel(generationModel)
	model.ResponseMIMEType = "application/json"

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty generation response")
	}

	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text parts in generation response")
	}
	return b.String(), nil
}

// stripFences removes markdown code fences that the model sometimes wraps
// around JSON despite the response MIME type.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
