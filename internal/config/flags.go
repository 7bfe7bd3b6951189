package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

const (
	FlagConfig  = "config"
	FlagEnvFile = "env-file"
	FlagVerbose = "verbose"
)

// AddFlags registers the persistent flags shared by every command. Flag
// defaults are zero values so that only flags the user set override the
// file and the environment.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(FlagConfig, "", "path to a YAML config file")
	fs.String(FlagEnvFile, ".env", "path to a .env file loaded into the environment when present")
	fs.BoolP(FlagVerbose, "v", false, "enable debug logging")

	fs.String("provider", "", "model provider (anthropic, openai)")
	fs.String("model", "", "model name")
	fs.String("base-url", "", "model API base URL for OpenAI-compatible endpoints")
	fs.String("dialect", "", "database dialect (sqlite, postgres, mysql, clickhouse, duckdb)")
	fs.String("driver", "", "database/sql driver name, overriding the dialect default")
	fs.String("dsn", "", "database connection string")
	fs.String("schema-file", "", "YAML or text schema file; the database is introspected when empty")
	fs.Int("max-rows", 0, "row cap applied to statements without LIMIT")
	fs.Duration("statement-timeout", 0, "per-statement execution timeout")
	fs.Duration("run-timeout", 0, "overall run timeout")
	fs.String("history", "", "run history backend (memory, mysql, none)")
	fs.String("history-dsn", "", "MySQL DSN for the mysql history backend")
}

// Resolve loads the configuration named by the flags and applies every flag
// the user set.
func Resolve(fs *pflag.FlagSet) (*Config, error) {
	path, err := fs.GetString(FlagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	envFile, err := fs.GetString(FlagEnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get env-file flag: %w", err)
	}
	cfg, err := Load(path, envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyFlags overrides fields from the flags that were set explicitly.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"provider":    &c.Model.Provider,
		"model":       &c.Model.Name,
		"base-url":    &c.Model.BaseURL,
		"dialect":     &c.Database.Dialect,
		"driver":      &c.Database.Driver,
		"dsn":         &c.Database.DSN,
		"schema-file": &c.Schema.File,
		"history":     &c.History.Backend,
		"history-dsn": &c.History.DSN,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = v
	}

	if fs.Changed("max-rows") {
		v, err := fs.GetInt("max-rows")
		if err != nil {
			return fmt.Errorf("failed to get max-rows flag: %w", err)
		}
		c.Pipeline.MaxRows = v
	}
	durs := map[string]*time.Duration{
		"statement-timeout": &c.Pipeline.StatementTimeout,
		"run-timeout":       &c.Pipeline.RunTimeout,
	}
	for name, dst := range durs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetDuration(name)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = v
	}
	return nil
}
