package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	insight "machine-monitor/internal/insight/domain"
)

const maxResponseBytes = 1 << 20

// HTTPGenerator posts the bundle to a remote narrative service.
type HTTPGenerator struct {
	url     string
	client  *http.Client
	prompt  *Prompt
	limiter *rate.Limiter
}

// HTTPOption customizes the HTTP generator.
type HTTPOption func(*HTTPGenerator)

// WithHTTPClient overrides the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(g *HTTPGenerator) {
		if client != nil {
			g.client = client
		}
	}
}

// WithRateLimit caps outbound calls per second. Zero disables limiting.
func WithRateLimit(perSecond float64) HTTPOption {
	return func(g *HTTPGenerator) {
		if perSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithPrompt overrides the prompt template.
func WithPrompt(prompt *Prompt) HTTPOption {
	return func(g *HTTPGenerator) {
		if prompt != nil {
			g.prompt = prompt
		}
	}
}

type httpRequest struct {
	MachineID string         `json:"machine_id"`
	Seq       uint64         `json:"seq"`
	Trigger   string         `json:"trigger"`
	System    string         `json:"system"`
	Prompt    string         `json:"prompt"`
	Bundle    insight.Bundle `json:"bundle"`
}

type httpResponse struct {
	Text      string           `json:"text"`
	Narrative string           `json:"narrative"`
	Sections  insight.Sections `json:"sections"`
}

// NewHTTPGenerator constructs a generator for url.
func NewHTTPGenerator(url string, opts ...HTTPOption) (*HTTPGenerator, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("insight http: empty url")
	}
	prompt, err := NewPrompt("")
	if err != nil {
		return nil, err
	}
	g := &HTTPGenerator{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
		prompt: prompt,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name implements insight.Named.
func (g *HTTPGenerator) Name() string { return "http" }

// Generate implements insight.Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, bundle insight.Bundle) (insight.Narrative, error) {
	if g == nil || g.client == nil {
		return insight.Narrative{}, errors.New("insight http: nil client")
	}
	promptText, err := g.prompt.Render(bundle)
	if err != nil {
		return insight.Narrative{}, err
	}
	body, err := json.Marshal(httpRequest{
		MachineID: bundle.MachineID,
		Seq:       bundle.Seq,
		Trigger:   string(bundle.Trigger),
		System:    SystemInstruction,
		Prompt:    promptText,
		Bundle:    bundle,
	})
	if err != nil {
		return insight.Narrative{}, err
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return insight.Narrative{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return insight.Narrative{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")
	resp, err := g.client.Do(req)
	if err != nil {
		return insight.Narrative{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return insight.Narrative{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return insight.Narrative{}, fmt.Errorf("%w: status %d: %s", insight.ErrProviderStatus, resp.StatusCode, truncate(string(raw), 200))
	}
	return decodeNarrative(resp.Header.Get("Content-Type"), raw)
}

func decodeNarrative(contentType string, raw []byte) (insight.Narrative, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		var payload httpResponse
		if err := json.Unmarshal(raw, &payload); err != nil {
			return insight.Narrative{}, fmt.Errorf("%w: %v", insight.ErrMalformed, err)
		}
		text := payload.Text
		if text == "" {
			text = payload.Narrative
		}
		return FromText(text, payload.Sections)
	}
	return FromText(string(raw), insight.Sections{})
}

// FromText builds a narrative from free text, deriving sections when the
// caller supplied none.
func FromText(text string, sections insight.Sections) (insight.Narrative, error) {
	text = strings.TrimSpace(text)
	if sections.Empty() && text != "" {
		sections = ParseSections(text)
	}
	n := insight.Narrative{Text: text, Sections: sections}
	if !n.Valid() {
		return insight.Narrative{}, insight.ErrMalformed
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
