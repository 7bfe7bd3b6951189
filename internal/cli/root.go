// Package cli implements the text2sql command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ruochenliao/text2sql/internal/config"
	applogger "github.com/ruochenliao/text2sql/internal/logger"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(info BuildInfo) ExitCode {
	if err := NewRootCmd(info, os.Stdout).Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

// NewRootCmd builds the command tree. Command output goes to out; logs go
// to stderr.
func NewRootCmd(info BuildInfo, out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "text2sql",
		Short:        "Answer natural language questions with read-only SQL.",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", info.Version, info.Commit, info.Date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}
	rootCmd.SetOut(out)
	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewAskCmd().Command(),
		NewServeCmd(info).Command(),
		NewMCPCmd(info).Command(),
		NewSchemaCmd().Command(),
		NewValidateCmd().Command(),
		NewSampleCmd().Command(),
	)
	return rootCmd
}

// setup resolves the configuration from the root persistent flags and
// builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	flags := cmd.Root().PersistentFlags()
	verbose, err := flags.GetBool(config.FlagVerbose)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	log := applogger.New(verbose)
	cfg, err := config.Resolve(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, log, nil
}
