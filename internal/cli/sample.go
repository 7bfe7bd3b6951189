package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ruochenliao/text2sql/pkg/executor"
	"github.com/ruochenliao/text2sql/pkg/fixtures"
)

type SampleCmd struct{}

func NewSampleCmd() *SampleCmd {
	return &SampleCmd{}
}

func (c *SampleCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Create the sample Customer/Invoice database at the configured DSN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			customers, err := cmd.Flags().GetInt("customers")
			if err != nil {
				return fmt.Errorf("failed to get customers flag: %w", err)
			}
			invoices, err := cmd.Flags().GetInt("invoices")
			if err != nil {
				return fmt.Errorf("failed to get invoices flag: %w", err)
			}
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			db, err := executor.Open(cmd.Context(), executor.OpenConfig{
				Dialect:   cfg.Dialect(),
				Driver:    cfg.Database.Driver,
				DSN:       cfg.Database.DSN,
				PingTries: cfg.Database.PingTries,
			})
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			sc := fixtures.SampleConfig{Customers: customers, InvoicesPerCustomer: invoices}
			if err := fixtures.Seed(cmd.Context(), db, sc); err != nil {
				return err
			}
			log.Info("cli: sample database created", "dialect", cfg.Dialect(), "dsn", cfg.Database.DSN)
			fmt.Fprintf(cmd.OutOrStdout(), "created sample database %s\n", cfg.Database.DSN)
			return nil
		},
	}
	cmd.Flags().Int("customers", fixtures.DefaultCustomers, "number of customers to create")
	cmd.Flags().Int("invoices", fixtures.DefaultInvoicesPerCustomer, "invoices per customer")
	return cmd
}
