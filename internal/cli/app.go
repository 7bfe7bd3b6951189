package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ruochenliao/text2sql/internal/config"
	"github.com/ruochenliao/text2sql/internal/history"
	"github.com/ruochenliao/text2sql/pkg/analyzer"
	"github.com/ruochenliao/text2sql/pkg/coordinator"
	"github.com/ruochenliao/text2sql/pkg/executor"
	"github.com/ruochenliao/text2sql/pkg/explainer"
	"github.com/ruochenliao/text2sql/pkg/generator"
	"github.com/ruochenliao/text2sql/pkg/llm"
	"github.com/ruochenliao/text2sql/pkg/prompts"
	"github.com/ruochenliao/text2sql/pkg/schema"
	"github.com/ruochenliao/text2sql/pkg/security"
	"github.com/ruochenliao/text2sql/pkg/visualize"
)

// app holds the fully wired pipeline and everything that must be released
// when a command exits.
type app struct {
	log         *slog.Logger
	cfg         *config.Config
	schema      schema.Provider
	validator   *security.Validator
	coordinator *coordinator.Coordinator
	history     history.Store

	closers []func()
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newValidator(cfg *config.Config) *security.Validator {
	return security.New(security.Config{MaxComplexity: cfg.Pipeline.MaxComplexity})
}

func newApp(ctx context.Context, log *slog.Logger, cfg *config.Config) (_ *app, err error) {
	a := &app{log: log, cfg: cfg, validator: newValidator(cfg)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { db.Close() })

	a.schema, err = newSchemaProvider(log, cfg, db, a.onClose)
	if err != nil {
		return nil, err
	}

	client, err := newModelClient(log, cfg, a.onClose)
	if err != nil {
		return nil, err
	}

	a.history, err = newHistory(ctx, log, cfg, a.onClose)
	if err != nil {
		return nil, err
	}

	p, err := prompts.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	an, err := analyzer.New(analyzer.Config{
		Logger:      log,
		Client:      client,
		Prompts:     p,
		Temperature: cfg.Model.Temperature,
		// The shared client already retries transient failures.
		MaxTries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}
	gen, err := generator.New(generator.Config{
		Logger:      log,
		Client:      client,
		Prompts:     p,
		Temperature: cfg.Model.Temperature,
		MaxRows:     cfg.Pipeline.MaxRows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	exp, err := explainer.New(explainer.Config{
		Logger:      log,
		Client:      client,
		Prompts:     p,
		Temperature: cfg.Model.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create explainer: %w", err)
	}
	rec, err := visualize.New(visualize.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to create recommender: %w", err)
	}
	exec, err := executor.New(executor.Config{
		Logger:  log,
		DB:      db,
		Dialect: cfg.Dialect(),
		MaxRows: cfg.Pipeline.MaxRows,
		Timeout: cfg.Pipeline.StatementTimeout,
	})
	if err != nil {
		return nil, err
	}

	a.coordinator, err = coordinator.New(coordinator.Config{
		Logger:               log,
		Schema:               a.schema,
		Dialect:              cfg.Dialect(),
		Analyzer:             an,
		Generator:            gen,
		Validator:            a.validator,
		Executor:             exec,
		Explainer:            exp,
		Recommender:          rec,
		Recorder:             a.history,
		Budgets:              coordinator.Budgets(cfg.Pipeline.Budgets),
		RunTimeout:           cfg.Pipeline.RunTimeout,
		MaxGenerationRetries: cfg.Pipeline.MaxGenerationRetries,
		MaxExecutionRetries:  cfg.Pipeline.MaxExecutionRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	a.onClose(a.coordinator.Close)

	log.Debug("cli: pipeline ready",
		"dialect", cfg.Dialect(),
		"provider", llm.NameOf(client),
		"model", cfg.Model.Name,
		"history", cfg.History.Backend,
		"runTimeout", a.coordinator.RunTimeout())
	return a, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := executor.Open(ctx, executor.OpenConfig{
		Dialect:      cfg.Dialect(),
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		ReadOnly:     cfg.Database.ReadOnly,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		PingTries:    cfg.Database.PingTries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// newSchemaProvider serves the schema file when one is configured and
// otherwise introspects db behind a TTL cache.
func newSchemaProvider(log *slog.Logger, cfg *config.Config, db *sql.DB, onClose func(func())) (schema.Provider, error) {
	if cfg.Schema.File != "" {
		s, err := schema.LoadFile(cfg.Schema.File, cfg.Dialect())
		if err != nil {
			return nil, err
		}
		log.Debug("cli: using schema file", "path", cfg.Schema.File, "tables", len(s.Tables))
		return schema.NewStaticProvider(s)
	}
	if db == nil {
		return nil, fmt.Errorf("a schema file or a database is required")
	}
	dbp, err := schema.NewDBProvider(schema.DBProviderConfig{
		Logger:  log,
		DB:      db,
		Dialect: cfg.Dialect(),
		Tables:  cfg.Schema.Tables,
	})
	if err != nil {
		return nil, err
	}
	onClose(dbp.Close)
	return schema.NewCachedProvider(dbp, cfg.Schema.CacheTTL)
}

// newModelClient builds the shared completion client: provider calls are
// instrumented, retried, then cached.
func newModelClient(log *slog.Logger, cfg *config.Config, onClose func(func())) (llm.Client, error) {
	var (
		base llm.Client
		err  error
	)
	switch cfg.Model.Provider {
	case config.ProviderOpenAI:
		base, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			Logger:    log,
			Model:     cfg.Model.Name,
			APIKey:    cfg.Model.APIKey,
			BaseURL:   cfg.Model.BaseURL,
			MaxTokens: cfg.Model.MaxTokens,
			Timeout:   cfg.Model.Timeout,
		})
	default:
		base, err = llm.NewAnthropicClient(llm.AnthropicConfig{
			Logger:    log,
			Model:     cfg.Model.Name,
			APIKey:    cfg.Model.APIKey,
			BaseURL:   cfg.Model.BaseURL,
			MaxTokens: cfg.Model.MaxTokens,
			Timeout:   cfg.Model.Timeout,
		})
	}
	if err != nil {
		return nil, err
	}

	retrying := llm.NewRetrying(llm.NewInstrumented(base), llm.RetryConfig{
		Logger:   log,
		MaxTries: cfg.Model.MaxTries,
	})
	cached, err := llm.NewCached(retrying, cfg.Model.CacheBytes)
	if err != nil {
		return nil, err
	}
	onClose(cached.Close)
	return cached, nil
}

func newHistory(ctx context.Context, log *slog.Logger, cfg *config.Config, onClose func(func())) (history.Store, error) {
	switch cfg.History.Backend {
	case config.HistoryNone:
		return history.Discard{}, nil
	case config.HistoryMySQL:
		store, err := history.OpenMySQL(ctx, log, cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		onClose(func() {
			if err := store.Close(); err != nil {
				log.Warn("cli: failed to close history store", "error", err)
			}
		})
		return store, nil
	default:
		store, err := history.NewMemoryStore(history.MemoryConfig{
			TTL:      cfg.History.TTL,
			Capacity: cfg.History.Capacity,
		})
		if err != nil {
			return nil, err
		}
		onClose(store.Close)
		return store, nil
	}
}

// openSchema builds only the schema provider, opening the database when no
// schema file is configured.
func openSchema(ctx context.Context, log *slog.Logger, cfg *config.Config) (schema.Provider, func(), error) {
	a := &app{log: log, cfg: cfg}
	var db *sql.DB
	if cfg.Schema.File == "" {
		var err error
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(func() { db.Close() })
	}
	p, err := newSchemaProvider(log, cfg, db, a.onClose)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return p, a.Close, nil
}
