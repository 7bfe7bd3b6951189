package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := cmd.Flags().GetBool("events")
			if err != nil {
				return fmt.Errorf("failed to get events flag: %w", err)
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, log, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sink := pipeline.DiscardSink
			if events {
				sink = eventPrinter(cmd.ErrOrStderr())
			}
			run, err := a.coordinator.Run(ctx, strings.Join(args, " "), sink)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(run); err != nil {
					return fmt.Errorf("failed to encode run: %w", err)
				}
			} else {
				printRun(out, run)
			}
			return runError(run)
		},
	}
	cmd.Flags().Bool("events", false, "print pipeline events to stderr as they happen")
	cmd.Flags().Bool("json", false, "print the full run as JSON")
	return cmd
}

// runError turns a run that did not finish DONE into a command error so
// the process exits non-zero.
func runError(run *pipeline.Run) error {
	if run.State == pipeline.StateDone {
		return nil
	}
	if run.Err != nil {
		return fmt.Errorf("run %s %s: %s", run.ID, strings.ToLower(string(run.State)), run.Err.Kind)
	}
	return fmt.Errorf("run %s %s", run.ID, strings.ToLower(string(run.State)))
}
