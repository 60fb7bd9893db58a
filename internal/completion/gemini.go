package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultGeminiModel is the high-throughput, lowest-cost Gemini model,
// which is plenty for three or four sentence answers.
const DefaultGeminiModel = "gemini-2.5-flash-lite"

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey string
	// Model defaults to DefaultGeminiModel.
	Model string
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string
	// Timeout bounds one request; defaults to 15s.
	Timeout time.Duration
}

// Gemini is a Completer backed by the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

var _ Completer = (*Gemini)(nil)

// NewGemini creates the Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	g := &Gemini{client: client, model: cfg.Model, timeout: cfg.Timeout}
	if g.model == "" {
		g.model = DefaultGeminiModel
	}
	if g.timeout <= 0 {
		g.timeout = 15 * time.Second
	}
	return g, nil
}

// Model returns the model name in use.
func (g *Gemini) Model() string { return g.model }

// Complete sends the rendered prompt and returns the reply text.
func (g *Gemini) Complete(ctx context.Context, req Request) (text string, err error) {
	start := time.Now()
	defer func() { observe("gemini", start, text, err) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](Temperature),
		TopP:            genai.Ptr[float32](TopP),
		TopK:            genai.Ptr[float32](TopK),
		MaxOutputTokens: MaxOutputTokens,
	}

	log.Debug().
		Str("model", g.model).
		Int("prompt_length", len(req.UserText)).
		Str("language", req.Language).
		Msg("Starting Gemini API call for assistant reply")

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt()), config)
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Gemini completion failed")
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyCompletion
	}

	text = CleanReply(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}

	log.Debug().
		Int("response_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini API response received")
	return text, nil
}
