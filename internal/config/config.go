// Package config loads text2sql settings from defaults, a YAML file, a
// .env file, the environment and command-line flags, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	HistoryMemory = "memory"
	HistoryMySQL  = "mysql"
	HistoryNone   = "none"

	envPrefix = "TEXT2SQL_"
)

type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	History  HistoryConfig  `yaml:"history"`
	Schema   SchemaConfig   `yaml:"schema"`
}

type ModelConfig struct {
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
	// APIKey falls back to ANTHROPIC_API_KEY or OPENAI_API_KEY.
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int64         `yaml:"max_tokens"`
	MaxTries    uint          `yaml:"max_tries"`
	CacheBytes  int64         `yaml:"cache_bytes"`
	Timeout     time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	Dialect  string `yaml:"dialect"`
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	ReadOnly bool   `yaml:"read_only"`

	MaxOpenConns int  `yaml:"max_open_conns"`
	PingTries    uint `yaml:"ping_tries"`
}

type PipelineConfig struct {
	MaxRows              int           `yaml:"max_rows"`
	StatementTimeout     time.Duration `yaml:"statement_timeout"`
	MaxComplexity        int           `yaml:"max_complexity"`
	MaxGenerationRetries int           `yaml:"max_generation_retries"`
	MaxExecutionRetries  int           `yaml:"max_execution_retries"`
	// RunTimeout defaults to the sum of the stage budgets.
	RunTimeout time.Duration `yaml:"run_timeout"`
	Budgets    Budgets       `yaml:"budgets"`
}

type Budgets struct {
	Analyze   time.Duration `yaml:"analyze"`
	Generate  time.Duration `yaml:"generate"`
	Validate  time.Duration `yaml:"validate"`
	Execute   time.Duration `yaml:"execute"`
	Explain   time.Duration `yaml:"explain"`
	Recommend time.Duration `yaml:"recommend"`
}

type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// AllowedTokens enables bearer authentication on the MCP endpoint.
	AllowedTokens []string `yaml:"allowed_tokens"`
}

type HistoryConfig struct {
	Backend  string        `yaml:"backend"`
	DSN      string        `yaml:"dsn"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity uint64        `yaml:"capacity"`
}

type SchemaConfig struct {
	// File is a YAML schema document or a free-text description. Without it
	// the schema is introspected from the database.
	File     string        `yaml:"file"`
	Tables   []string      `yaml:"tables"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:   ProviderAnthropic,
			Name:       "claude-3-5-haiku-latest",
			MaxTokens:  1500,
			MaxTries:   2,
			CacheBytes: 32 << 20,
			Timeout:    60 * time.Second,
		},
		Database: DatabaseConfig{
			Dialect:      string(dialect.SQLite),
			DSN:          "text2sql.db",
			ReadOnly:     true,
			MaxOpenConns: 8,
			PingTries:    5,
		},
		Pipeline: PipelineConfig{
			MaxRows:              100,
			StatementTimeout:     30 * time.Second,
			MaxComplexity:        10,
			MaxGenerationRetries: 1,
			MaxExecutionRetries:  1,
			Budgets: Budgets{
				Analyze:   60 * time.Second,
				Generate:  60 * time.Second,
				Validate:  time.Second,
				Execute:   30 * time.Second,
				Explain:   60 * time.Second,
				Recommend: 5 * time.Second,
			},
		},
		Server: ServerConfig{
			ListenAddr:        "127.0.0.1:8080",
			MetricsAddr:       "127.0.0.1:0",
			AllowedOrigins:    []string{"http://localhost:5173"},
			HeartbeatInterval: 15 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		History: HistoryConfig{
			Backend:  HistoryMemory,
			TTL:      24 * time.Hour,
			Capacity: 1000,
		},
		Schema: SchemaConfig{
			CacheTTL: 5 * time.Minute,
		},
	}
}

// Load reads the YAML file at path (optional) over the defaults, then loads
// envFile into the process environment when it exists and applies
// environment overrides.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.Merge(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge decodes a YAML document over the current values. Unknown keys are
// rejected.
func (c *Config) Merge(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from TEXT2SQL_* variables and the provider API
// key variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("MODEL_PROVIDER", &c.Model.Provider)
	str("MODEL_NAME", &c.Model.Name)
	str("MODEL_BASE_URL", &c.Model.BaseURL)
	str("MODEL_API_KEY", &c.Model.APIKey)
	str("DB_DIALECT", &c.Database.Dialect)
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	num("MAX_ROWS", &c.Pipeline.MaxRows)
	num("MAX_COMPLEXITY", &c.Pipeline.MaxComplexity)
	dur("STATEMENT_TIMEOUT", &c.Pipeline.StatementTimeout)
	dur("RUN_TIMEOUT", &c.Pipeline.RunTimeout)
	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("METRICS_ADDR", &c.Server.MetricsAddr)
	list("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	list("ALLOWED_TOKENS", &c.Server.AllowedTokens)
	str("HISTORY_BACKEND", &c.History.Backend)
	str("HISTORY_DSN", &c.History.DSN)
	dur("HISTORY_TTL", &c.History.TTL)
	str("SCHEMA_FILE", &c.Schema.File)
	list("SCHEMA_TABLES", &c.Schema.Tables)

	if c.Model.APIKey == "" {
		key := "ANTHROPIC_API_KEY"
		if c.Model.Provider == ProviderOpenAI {
			key = "OPENAI_API_KEY"
		}
		if v, ok := lookup(key); ok {
			c.Model.APIKey = v
		}
	}
	return errors.Join(errs...)
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if !slices.Contains([]string{ProviderAnthropic, ProviderOpenAI}, c.Model.Provider) {
		return fmt.Errorf("unsupported model provider %q", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return errors.New("model name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model temperature %v is outside [0, 1]", c.Model.Temperature)
	}
	if _, err := dialect.Parse(c.Database.Dialect); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Pipeline.MaxRows <= 0 {
		return errors.New("pipeline max_rows must be positive")
	}
	if c.Pipeline.MaxGenerationRetries < 0 || c.Pipeline.MaxExecutionRetries < 0 {
		return errors.New("pipeline retry limits must not be negative")
	}
	switch c.History.Backend {
	case HistoryMemory, HistoryNone:
	case HistoryMySQL:
		if c.History.DSN == "" {
			return errors.New("history dsn is required for the mysql backend")
		}
	default:
		return fmt.Errorf("unsupported history backend %q", c.History.Backend)
	}
	return nil
}

// Dialect returns the parsed database dialect. Call after Validate.
func (c *Config) Dialect() dialect.Dialect {
	d, _ := dialect.Parse(c.Database.Dialect)
	return d
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
