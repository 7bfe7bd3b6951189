package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go/v2"
)

const (
	defaultRetryMaxTries        = 2
	defaultRetryInitialInterval = 500 * time.Millisecond
)

type RetryConfig struct {
	Logger *slog.Logger
	// MaxTries counts the first attempt, so 2 means a single retry.
	MaxTries        uint
	InitialInterval time.Duration
}

// Retrying retries transient completion failures with exponential backoff.
type Retrying struct {
	next Client
	cfg  RetryConfig
}

func NewRetrying(next Client, cfg RetryConfig) *Retrying {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultRetryMaxTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultRetryInitialInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Retrying{next: next, cfg: cfg}
}

func (r *Retrying) Name() string { return NameOf(r.next) }

func (r *Retrying) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		text, err := r.next.Complete(ctx, messages, opts)
		if err == nil {
			return text, nil
		}
		if !retryable(err) {
			return "", backoff.Permanent(err)
		}
		r.cfg.Logger.Debug("llm: completion attempt failed", "attempt", attempt, "error", err)
		return "", err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries),
	)
}

// retryable reports whether err is worth another attempt: transport
// failures, rate limits and server errors are, client errors are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return statusRetryable(aerr.StatusCode)
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return statusRetryable(oerr.StatusCode)
	}
	return true
}

func statusRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
