package fixtures

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCustomers           = 59
	DefaultInvoicesPerCustomer = 7

	// invoiceBatchSize bounds the rows per INSERT so every engine accepts
	// the statement.
	invoiceBatchSize = 200
)

var (
	firstNames = []string{"Luís", "Leonie", "François", "Bjørn", "František", "Helena", "Astrid", "Daan", "Kara", "Eduardo", "Alexandre", "Roberto", "Fernanda", "Mark", "Jennifer", "Frank", "Jack", "Michelle", "Tim", "Dan"}
	lastNames  = []string{"Gonçalves", "Köhler", "Tremblay", "Hansen", "Wichterlová", "Holý", "Gruber", "Peeters", "Nielsen", "Martins", "Rocha", "Almeida", "Ramos", "Philips", "Peterson", "Harris", "Smith", "Brooks", "Goyer", "Miller", "O'Reilly"}
	countries  = []string{"Brazil", "Germany", "Canada", "Norway", "Czech Republic", "Austria", "Belgium", "Denmark", "USA", "Portugal", "France", "India", "United Kingdom"}

	invoiceEpoch = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)
)

type SampleConfig struct {
	Customers           int
	InvoicesPerCustomer int
}

func (cfg *SampleConfig) Validate() error {
	if cfg.Customers < 0 || cfg.InvoicesPerCustomer < 0 {
		return fmt.Errorf("sample sizes must not be negative")
	}
	if cfg.Customers == 0 {
		cfg.Customers = DefaultCustomers
	}
	if cfg.InvoicesPerCustomer == 0 {
		cfg.InvoicesPerCustomer = DefaultInvoicesPerCustomer
	}
	return nil
}

type sampleCustomer struct {
	ID        int
	FirstName string
	LastName  string
	Country   string
	Email     string
}

type sampleInvoice struct {
	ID         int
	CustomerID int
	Date       string
	Country    string
	Total      string
}

type sampleData struct {
	Customers      []sampleCustomer
	InvoiceBatches [][]sampleInvoice
}

// sample builds the rows deterministically so that repeated seeds produce
// identical databases.
func sample(cfg SampleConfig) sampleData {
	var data sampleData
	var invoices []sampleInvoice
	for _, n := range seq(1, cfg.Customers) {
		c := sampleCustomer{
			ID:        n,
			FirstName: firstNames[(n-1)%len(firstNames)],
			LastName:  lastNames[(n*5)%len(lastNames)],
			Country:   countries[(n*3)%len(countries)],
			Email:     fmt.Sprintf("customer%d@example.com", n),
		}
		data.Customers = append(data.Customers, c)

		for _, k := range seq(1, cfg.InvoicesPerCustomer) {
			day := (n*31 + k*53) % 1095
			cents := 99 * (1 + (n*k)%14)
			invoices = append(invoices, sampleInvoice{
				ID:         len(invoices) + 1,
				CustomerID: n,
				Date:       invoiceEpoch.AddDate(0, 0, day).Format(time.DateOnly),
				Country:    c.Country,
				Total:      fmt.Sprintf("%d.%02d", cents/100, cents%100),
			})
		}
	}
	for start := 0; start < len(invoices); start += invoiceBatchSize {
		data.InvoiceBatches = append(data.InvoiceBatches, invoices[start:min(start+invoiceBatchSize, len(invoices))])
	}
	return data
}

// SampleSQL renders the schema and rows of the sample database as a script
// of semicolon terminated statements.
func SampleSQL(cfg SampleConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	return renderEmbedded("sample.sql.tmpl", sample(cfg))
}

// Statements splits a script rendered by SampleSQL into single statements.
func Statements(script string) []string {
	var stmts []string
	for part := range strings.SplitSeq(script, ";\n") {
		part = strings.TrimSuffix(strings.TrimSpace(part), ";")
		if part != "" {
			stmts = append(stmts, part)
		}
	}
	return stmts
}

// Seed creates and fills the sample tables in one transaction.
func Seed(ctx context.Context, db *sql.DB, cfg SampleConfig) error {
	script, err := SampleSQL(cfg)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range Statements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to seed sample database: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sample database: %w", err)
	}
	return nil
}
