// Package explainer describes a SQL statement in plain language.
package explainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/llm"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/prompts"
)

const DefaultMaxTokens = 800

type Config struct {
	Logger  *slog.Logger
	Client  llm.Client
	Prompts *prompts.Prompts

	Temperature float64
	MaxTokens   int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompts is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return nil
}

type Explainer struct {
	log     *slog.Logger
	client  llm.Client
	prompts *prompts.Prompts
	opts    llm.Options
}

func New(cfg Config) (*Explainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Explainer{
		log:     cfg.Logger,
		client:  cfg.Client,
		prompts: cfg.Prompts,
		opts: llm.Options{
			Temperature:       cfg.Temperature,
			MaxTokens:         cfg.MaxTokens,
			CacheSystemPrompt: true,
		},
	}, nil
}

// Explain never fails; without a usable model answer it returns the
// template description from Describe.
func (e *Explainer) Explain(ctx context.Context, req pipeline.ExplainRequest) pipeline.Explanation {
	messages := []llm.Message{
		llm.System(e.prompts.ExplainSystem(req.Schema)),
		llm.User(userPrompt(req)),
	}
	text, err := e.client.Complete(ctx, messages, e.opts)
	if err != nil {
		e.log.Warn("explainer: model call failed, using template explanation", "error", err)
		return pipeline.Explanation{Text: Describe(req.Question, req.SQL, req.Analysis), Fallback: true}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		e.log.Warn("explainer: empty model response, using template explanation")
		return pipeline.Explanation{Text: Describe(req.Question, req.SQL, req.Analysis), Fallback: true}
	}
	return pipeline.Explanation{Text: text}
}

func userPrompt(req pipeline.ExplainRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", strings.TrimSpace(req.Question))
	fmt.Fprintf(&sb, "SQL:\n```sql\n%s\n```\n", strings.TrimSpace(req.SQL))
	if d := req.Analysis.Intent.Description; d != "" {
		fmt.Fprintf(&sb, "\nIntent: %s (%s)\n", d, req.Analysis.Intent.Type)
	}
	return sb.String()
}
