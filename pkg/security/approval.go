package security

import (
	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

// Approval proves a statement passed validation. Its fields are
// unexported, so only Validator.Validate can produce a usable one; the
// executor refuses anything else.
type Approval struct {
	sql     string
	verdict pipeline.SecurityVerdict
}

// SQL is the exact text that was validated.
func (a *Approval) SQL() string { return a.sql }

// AutoLimit reports whether the executor must inject the row cap.
func (a *Approval) AutoLimit() bool { return a.verdict.AutoLimitApplied }

func (a *Approval) Verdict() pipeline.SecurityVerdict { return a.verdict }

// Valid reports whether a was issued by a Validator.
func (a *Approval) Valid() bool {
	return a != nil && a.sql != "" && a.verdict.Safe
}
