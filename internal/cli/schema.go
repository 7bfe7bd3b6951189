package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type SchemaCmd struct{}

func NewSchemaCmd() *SchemaCmd {
	return &SchemaCmd{}
}

func (c *SchemaCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema the pipeline prompts with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asYAML, err := cmd.Flags().GetBool("yaml")
			if err != nil {
				return fmt.Errorf("failed to get yaml flag: %w", err)
			}
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			provider, closeFn, err := openSchema(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			s, err := provider.Schema(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load schema: %w", err)
			}

			out := cmd.OutOrStdout()
			if !asYAML {
				fmt.Fprintln(out, s.Text())
				return nil
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(s); err != nil {
				return fmt.Errorf("failed to encode schema: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().Bool("yaml", false, "print the schema as a YAML document that --schema-file accepts")
	return cmd
}
