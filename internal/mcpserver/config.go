package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/schema"
	"github.com/ruochenliao/text2sql/pkg/security"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Runner answers a question with a finished run.
type Runner interface {
	Run(ctx context.Context, question string, sink pipeline.Sink) (*pipeline.Run, error)
}

type Validator interface {
	Validate(sql string) (pipeline.SecurityVerdict, *security.Approval)
	MaxComplexity() int
}

type Config struct {
	Logger    *slog.Logger
	Version   string
	Runner    Runner
	Validator Validator
	Schema    schema.Provider

	// ListenAddr and AllowedTokens only apply to the streamable HTTP
	// transport.
	ListenAddr        string
	AllowedTokens     []string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runner == nil {
		return errors.New("runner is required")
	}
	if cfg.Validator == nil {
		return errors.New("validator is required")
	}
	if cfg.Schema == nil {
		return errors.New("schema provider is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
