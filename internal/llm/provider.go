// Package llm defines the text-completion provider contract and its OpenAI
// implementation. The provider is constructed explicitly and injected into
// every component that needs it; nothing in this package is process-global.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrEmptyCompletion indicates the provider returned no usable content.
var ErrEmptyCompletion = errors.New("provider returned empty completion")

// Request is one completion call.
type Request struct {
	System string
	Prompt string
	Model  string
}

// Response is the provider's structured result.
type Response struct {
	Content     string
	Model       string
	TotalTokens int
}

// Provider is the text-completion contract. Implementations must honor ctx
// cancellation; per-call timeout and retry budget are configuration supplied
// at construction, not internal policy.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIProvider implements Provider over the OpenAI chat completions API.
type OpenAIProvider struct {
	client  *openai.Client
	config  OpenAIConfig
}

// NewOpenAIProvider creates a provider handle. The API key falls back to
// OPENAI_API_KEY when unset in config.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai api key is not configured")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("openai model is not configured")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(config.MaxRetries),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, config: config}, nil
}

// Complete performs one completion call under the configured timeout.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	completion, err := p.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, ErrEmptyCompletion
	}

	return &Response{
		Content:     completion.Choices[0].Message.Content,
		Model:       completion.Model,
		TotalTokens: int(completion.Usage.TotalTokens),
	}, nil
}
