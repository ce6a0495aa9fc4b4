package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClassifier asks a Gemini model for the intent. The model must
// answer with strict JSON; anything else is treated as a classification
// failure and the caller falls back to its fixed reply.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

func NewGeminiClassifier(ctx context.Context, model string) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClassifier{client: client, model: model}, nil
}

type geminiResult struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}

func (c *GeminiClassifier) Classify(ctx context.Context, locale, text string) (Result, error) {
	prompt := "You are an intent classifier for a personal finance chat bot.\n" +
		"The user writes in locale " + locale + ".\n\n" +
		"Classify the message into exactly one of these intents:\n" +
		"- " + IntentTransactionIncome + "\n" +
		"- " + IntentTransactionExpense + "\n" +
		"- " + IntentBudgetSet + "\n" +
		"- " + IntentBudgetView + "\n" +
		"- " + IntentBudgetRemaining + "\n" +
		"- " + IntentReportDaily + "\n" +
		"- " + IntentReportWeekly + "\n" +
		"- " + IntentReportMonthly + "\n\n" +
		"Extract entities when present: \"amount\" (the raw number as written),\n" +
		"\"category\" (what the money was for), \"item\" (the purchased thing).\n\n" +
		"Output STRICT JSON only, no code fences, shaped as:\n" +
		"{\"intent\": string or \"\", \"confidence\": number 0..1, \"entities\": {string: string}}\n\n" +
		"Message: " + text

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return Result{}, fmt.Errorf("empty response from model")
	}

	var parsed geminiResult
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &parsed); err != nil {
		return Result{}, fmt.Errorf("unmarshal model output: %w", err)
	}
	if parsed.Entities == nil {
		parsed.Entities = make(map[string]string)
	}
	return Result{
		Intent:     parsed.Intent,
		Confidence: parsed.Confidence,
		Entities:   parsed.Entities,
	}, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk when the model
// ignores the strict-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
