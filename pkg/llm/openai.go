package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions endpoint (OpenAI, DeepSeek, Qwen, local gateways).
type OpenAIClient struct {
	log       *slog.Logger
	client    openai.Client
	model     string
	maxTokens int64
}

type OpenAIConfig struct {
	Logger    *slog.Logger
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int64
	// Timeout bounds a single HTTP attempt; zero leaves it to the context.
	Timeout time.Duration
}

func (cfg *OpenAIConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Model == "" {
		return fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return nil
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate openai config: %w", err)
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAIClient{
		log:       cfg.Logger,
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Temperature: openai.Float(opts.Temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(opts.MaxTokens)
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	start := time.Now()
	c.log.Debug("llm: openai call starting", "model", c.model, "messages", len(params.Messages))

	completion, err := c.client.Chat.Completions.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		c.log.Warn("llm: openai call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	c.log.Debug("llm: openai call completed", "duration", duration,
		"finishReason", completion.Choices[0].FinishReason, "totalTokens", completion.Usage.TotalTokens)
	return completion.Choices[0].Message.Content, nil
}
