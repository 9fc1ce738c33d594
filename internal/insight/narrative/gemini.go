package narrative

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	insight "machine-monitor/internal/insight/domain"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// ContentGenerator is the slice of the genai Models service the Gemini
// generator needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator asks a Gemini model for the narrative.
type GeminiGenerator struct {
	models ContentGenerator
	model  string
	prompt *Prompt
}

// NewGeminiClient creates a genai client for the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("insight gemini: api key is required")
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewGeminiGenerator wraps a models service, usually client.Models.
func NewGeminiGenerator(models ContentGenerator, model string) (*GeminiGenerator, error) {
	if models == nil {
		return nil, errors.New("insight gemini: nil models service")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	prompt, err := NewPrompt("")
	if err != nil {
		return nil, err
	}
	return &GeminiGenerator{models: models, model: model, prompt: prompt}, nil
}

// Name implements insight.Named.
func (g *GeminiGenerator) Name() string { return "gemini" }

// Generate implements insight.Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, bundle insight.Bundle) (insight.Narrative, error) {
	if g == nil || g.models == nil {
		return insight.Narrative{}, errors.New("insight gemini: nil generator")
	}
	promptText, err := g.prompt.Render(bundle)
	if err != nil {
		return insight.Narrative{}, err
	}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(promptText), &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0.3),
		MaxOutputTokens:   400,
		SystemInstruction: genai.NewContentFromText(SystemInstruction, genai.RoleUser),
	})
	if err != nil {
		return insight.Narrative{}, err
	}
	if resp == nil {
		return insight.Narrative{}, insight.ErrMalformed
	}
	return FromText(resp.Text(), insight.Sections{})
}
