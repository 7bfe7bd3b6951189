package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruochenliao/text2sql/internal/history"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/schema"
)

const (
	defaultListenAddr        = "127.0.0.1:8080"
	defaultHeartbeatInterval = 15 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
	defaultListLimit         = 50
)

// Runner runs questions through the pipeline.
type Runner interface {
	Run(ctx context.Context, question string, sink pipeline.Sink) (*pipeline.Run, error)
	Stream(ctx context.Context, question string) (<-chan pipeline.Event, func() (*pipeline.Run, error))
}

type Config struct {
	Logger    *slog.Logger
	Runner    Runner
	Validator Validator
	Schema    schema.Provider
	// History is optional; without it the run endpoints answer 404.
	History history.Store

	ListenAddr        string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
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
	if cfg.History == nil {
		cfg.History = history.Discard{}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
