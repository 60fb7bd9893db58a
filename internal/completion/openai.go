package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog/log"
)

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// MaxRetries is passed to the SDK; tests set it to zero.
	MaxRetries int
}

// OpenAI is a Completer backed by an OpenAI-compatible chat completions API.
type OpenAI struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

var _ Completer = (*OpenAI)(nil)

// NewOpenAI creates the OpenAI client.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	o := &OpenAI{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
	if o.model == "" {
		o.model = DefaultOpenAIModel
	}
	if o.timeout <= 0 {
		o.timeout = 15 * time.Second
	}
	return o, nil
}

// Complete sends the persona as the system message and the viewer's text
// as the user message.
func (o *OpenAI) Complete(ctx context.Context, req Request) (text string, err error) {
	start := time.Now()
	defer func() { observe("openai", start, text, err) }()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	system := req.SystemInstruction
	if req.Language != "" {
		system += "\nResponse Language: " + strings.ToUpper(req.Language)
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(req.UserText),
		},
		Model:               openai.ChatModel(o.model),
		Temperature:         openai.Float(Temperature),
		TopP:                openai.Float(TopP),
		MaxCompletionTokens: openai.Int(MaxOutputTokens),
	})
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("OpenAI completion failed")
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	text = CleanReply(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
