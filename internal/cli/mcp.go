package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ruochenliao/text2sql/internal/mcpserver"
)

type MCPCmd struct {
	info BuildInfo
}

func NewMCPCmd(info BuildInfo) *MCPCmd {
	return &MCPCmd{info: info}
}

func (c *MCPCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline as MCP tools over stdio or streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			httpMode, err := cmd.Flags().GetBool("http")
			if err != nil {
				return fmt.Errorf("failed to get http flag: %w", err)
			}
			listen, err := cmd.Flags().GetString("listen")
			if err != nil {
				return fmt.Errorf("failed to get listen flag: %w", err)
			}

			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Server.ListenAddr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, log, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcpserver.New(mcpserver.Config{
				Logger:        log,
				Version:       c.info.Version,
				Runner:        a.coordinator,
				Validator:     a.validator,
				Schema:        a.schema,
				ListenAddr:    listen,
				AllowedTokens: cfg.Server.AllowedTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create mcp server: %w", err)
			}
			if httpMode {
				return srv.RunHTTP(ctx)
			}
			return srv.RunStdio(ctx)
		},
	}
	cmd.Flags().Bool("http", false, "serve streamable HTTP instead of stdio")
	cmd.Flags().String("listen", "", "HTTP listen address for --http (default from config)")
	return cmd
}
