package recovery

import (
	"context"
	"fmt"
)

// CustomerProfile is the loan record of one customer, read once per call.
// It is never mutated; a renegotiated EMI is tracked by the Coordinator.
type CustomerProfile struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	LoanType     string `json:"loan_type"`
	LoanAmount   int64  `json:"loan_amount"`
	EMIAmount    int64  `json:"emi_amount"`
	TenureMonths int    `json:"tenure_months"`
	DaysOverdue  int    `json:"days_overdue"`
	Status       string `json:"status"`
	IsDefaulter  bool   `json:"is_defaulter"`
}

// Summary is the one-line description shown to the operator.
func (p *CustomerProfile) Summary() string {
	if p == nil {
		return "No customer profile currently loaded."
	}
	return fmt.Sprintf("Current customer: %s, %s, Status: %s, %d days overdue",
		p.Name, p.LoanType, p.Status, p.DaysOverdue)
}

// LookupStatus classifies the result of a customer search.
type LookupStatus string

const (
	LookupUnique   LookupStatus = "unique"
	LookupNone     LookupStatus = "none"
	LookupMultiple LookupStatus = "multiple"
)

// LookupResult is what a Lookup returns for a name.
// Profile is set only for LookupUnique. Candidates holds matching names for
// LookupMultiple and a sample of known names for LookupNone.
type LookupResult struct {
	Status     LookupStatus     `json:"status"`
	Profile    *CustomerProfile `json:"profile,omitempty"`
	Candidates []string         `json:"candidates,omitempty"`
}

// Lookup finds a customer by full or partial name.
type Lookup interface {
	FindCustomer(ctx context.Context, name string) (LookupResult, error)
}
