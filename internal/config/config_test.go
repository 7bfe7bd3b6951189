package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/ruochenliao/text2sql/pkg/dialect"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, dialect.SQLite, cfg.Dialect())
	require.Equal(t, 1, cfg.Pipeline.MaxGenerationRetries)
	require.Equal(t, 1, cfg.Pipeline.MaxExecutionRetries)
	require.Equal(t, 100, cfg.Pipeline.MaxRows)
	require.True(t, cfg.Database.ReadOnly)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.Merge([]byte(`
model:
  provider: openai
  name: gpt-4o-mini
database:
  dialect: postgres
  dsn: postgres://localhost/chinook
pipeline:
  max_rows: 25
  budgets:
    execute: 10s
`))
	require.NoError(t, err)
	require.Equal(t, ProviderOpenAI, cfg.Model.Provider)
	require.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	require.Equal(t, dialect.PostgreSQL, cfg.Dialect())
	require.Equal(t, 25, cfg.Pipeline.MaxRows)
	require.Equal(t, 10*time.Second, cfg.Pipeline.Budgets.Execute)
	// Untouched keys keep their defaults.
	require.Equal(t, 60*time.Second, cfg.Pipeline.Budgets.Generate)
	require.Equal(t, int64(1500), cfg.Model.MaxTokens)

	require.NoError(t, cfg.Merge(nil))

	err = cfg.Merge([]byte("pipeline:\n  max_rowz: 5\n"))
	require.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		"TEXT2SQL_DB_DIALECT":      "mysql",
		"TEXT2SQL_DB_DSN":          "root@tcp(localhost:3306)/chinook",
		"TEXT2SQL_MAX_ROWS":        "50",
		"TEXT2SQL_RUN_TIMEOUT":     "2m",
		"TEXT2SQL_ALLOWED_ORIGINS": "http://a.example, ,http://b.example",
		"TEXT2SQL_MODEL_NAME":      "",
		"ANTHROPIC_API_KEY":        "sk-ant",
	}))
	require.NoError(t, err)
	require.Equal(t, dialect.MySQL, cfg.Dialect())
	require.Equal(t, "root@tcp(localhost:3306)/chinook", cfg.Database.DSN)
	require.Equal(t, 50, cfg.Pipeline.MaxRows)
	require.Equal(t, 2*time.Minute, cfg.Pipeline.RunTimeout)
	require.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	require.Equal(t, "claude-3-5-haiku-latest", cfg.Model.Name, "empty values are ignored")
	require.Equal(t, "sk-ant", cfg.Model.APIKey)
}

func TestApplyEnv_OpenAIKey(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookupFrom(map[string]string{
		"TEXT2SQL_MODEL_PROVIDER": "openai",
		"ANTHROPIC_API_KEY":       "sk-ant",
		"OPENAI_API_KEY":          "sk-openai",
	})))
	require.Equal(t, "sk-openai", cfg.Model.APIKey)

	cfg = Default()
	require.NoError(t, cfg.ApplyEnv(lookupFrom(map[string]string{
		"TEXT2SQL_MODEL_API_KEY": "explicit",
		"ANTHROPIC_API_KEY":      "sk-ant",
	})))
	require.Equal(t, "explicit", cfg.Model.APIKey)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		"TEXT2SQL_MAX_ROWS":          "many",
		"TEXT2SQL_STATEMENT_TIMEOUT": "soon",
	}))
	require.ErrorContains(t, err, "TEXT2SQL_MAX_ROWS")
	require.ErrorContains(t, err, "TEXT2SQL_STATEMENT_TIMEOUT")
	require.Equal(t, 100, cfg.Pipeline.MaxRows)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"provider", func(c *Config) { c.Model.Provider = "bard" }, `unsupported model provider "bard"`},
		{"model name", func(c *Config) { c.Model.Name = "" }, "model name is required"},
		{"temperature", func(c *Config) { c.Model.Temperature = 1.5 }, "outside [0, 1]"},
		{"dialect", func(c *Config) { c.Database.Dialect = "oracle" }, "oracle"},
		{"dsn", func(c *Config) { c.Database.DSN = "" }, "database dsn is required"},
		{"max rows", func(c *Config) { c.Pipeline.MaxRows = 0 }, "max_rows must be positive"},
		{"retries", func(c *Config) { c.Pipeline.MaxExecutionRetries = -1 }, "must not be negative"},
		{"history backend", func(c *Config) { c.History.Backend = "redis" }, `unsupported history backend "redis"`},
		{"history dsn", func(c *Config) { c.History.Backend = HistoryMySQL }, "history dsn is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	cfg := Default()
	cfg.History.Backend = HistoryNone
	require.NoError(t, cfg.Validate())
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--dialect", "duckdb", "--dsn", "chinook.duckdb", "--max-rows", "7", "--run-timeout", "90s", "-v"}))

	cfg := Default()
	require.NoError(t, cfg.ApplyFlags(fs))
	require.Equal(t, dialect.DuckDB, cfg.Dialect())
	require.Equal(t, "chinook.duckdb", cfg.Database.DSN)
	require.Equal(t, 7, cfg.Pipeline.MaxRows)
	require.Equal(t, 90*time.Second, cfg.Pipeline.RunTimeout)
	// Flags left at their zero defaults do not clobber configured values.
	require.Equal(t, 30*time.Second, cfg.Pipeline.StatementTimeout)
	require.Equal(t, ProviderAnthropic, cfg.Model.Provider)

	verbose, err := fs.GetBool(FlagVerbose)
	require.NoError(t, err)
	require.True(t, verbose)
}

// Load touches the process environment, so it does not run in parallel.
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "text2sql.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_rows: 10\nschema:\n  tables: [Customer, Invoice]\n"), 0o600))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TEXT2SQL_HISTORY_TTL=1h\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TEXT2SQL_HISTORY_TTL") })

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Pipeline.MaxRows)
	require.Equal(t, []string{"Customer", "Invoice"}, cfg.Schema.Tables)
	require.Equal(t, time.Hour, cfg.History.TTL)

	// A missing .env file is not an error; a missing config file is.
	_, err = Load("", filepath.Join(dir, "absent.env"))
	require.NoError(t, err)
	_, err = Load(filepath.Join(dir, "absent.yaml"), "")
	require.ErrorContains(t, err, "failed to read config file")
}

func TestResolve(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--env-file", "", "--history", "mysql"}))

	_, err := Resolve(fs)
	require.ErrorContains(t, err, "history dsn is required")
}
