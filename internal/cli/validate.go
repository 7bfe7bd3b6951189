package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ruochenliao/text2sql/pkg/security"
)

type ValidateCmd struct{}

func NewValidateCmd() *ValidateCmd {
	return &ValidateCmd{}
}

func (c *ValidateCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <sql>",
		Short: "Check a statement against the security rules without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			v := newValidator(cfg)
			sql := strings.Join(args, " ")
			verdict, _ := v.Validate(sql)
			printVerdict(cmd.OutOrStdout(), verdict, security.Complexity(sql), v.MaxComplexity())
			if !verdict.Safe {
				return fmt.Errorf("statement rejected (%s): %s", verdict.RiskLevel, verdict.Reason)
			}
			return nil
		},
	}
}
