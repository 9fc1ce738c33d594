package narrative

import (
	"context"
	"fmt"
	"strings"

	insight "machine-monitor/internal/insight/domain"
)

// Provider names accepted by New.
const (
	ProviderTemplate = "template"
	ProviderHTTP     = "http"
	ProviderGemini   = "gemini"
)

// Settings selects and configures a narrative collaborator.
type Settings struct {
	Provider     string
	HTTPURL      string
	RateLimit    float64
	GeminiAPIKey string
	GeminiModel  string
}

// New creates the generator named by settings.Provider.
func New(ctx context.Context, settings Settings) (insight.Generator, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Provider)) {
	case "", ProviderTemplate:
		return NewTemplateGenerator("")
	case ProviderHTTP:
		return NewHTTPGenerator(settings.HTTPURL, WithRateLimit(settings.RateLimit))
	case ProviderGemini:
		client, err := NewGeminiClient(ctx, settings.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return NewGeminiGenerator(client.Models, settings.GeminiModel)
	default:
		return nil, fmt.Errorf("insight: unknown provider %q, supported: [%s %s %s]",
			settings.Provider, ProviderTemplate, ProviderHTTP, ProviderGemini)
	}
}
