package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 2048

// AnthropicClient implements Client using the Anthropic Messages API.
type AnthropicClient struct {
	log       *slog.Logger
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

type AnthropicConfig struct {
	Logger    *slog.Logger
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int64
	// Timeout bounds a single HTTP attempt; zero leaves it to the context.
	Timeout time.Duration
}

func (cfg *AnthropicConfig) Validate() error {
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

// NewAnthropicClient creates an Anthropic-backed client. With an empty
// APIKey the SDK reads ANTHROPIC_API_KEY from the environment.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate anthropic config: %w", err)
	}
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	// Retries are handled by the Retrying decorator.
	opts = append(opts, option.WithMaxRetries(0))
	return &AnthropicClient{
		log:       cfg.Logger,
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// Complete sends the conversation to Claude and returns the first text block.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	system, rest := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = opts.MaxTokens
	}
	if system != "" {
		block := anthropic.TextBlockParam{Text: system}
		if opts.CacheSystemPrompt {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}
	for _, m := range rest {
		switch m.Role {
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	start := time.Now()
	c.log.Debug("llm: anthropic call starting", "model", c.model, "maxTokens", params.MaxTokens, "messages", len(params.Messages))

	msg, err := c.client.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		c.log.Warn("llm: anthropic call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	c.log.Debug("llm: anthropic call completed", "duration", duration, "stopReason", msg.StopReason,
		"inputTokens", msg.Usage.InputTokens, "outputTokens", msg.Usage.OutputTokens)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
