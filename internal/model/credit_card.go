package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statement is one billing cycle of a credit card.
type Statement struct {
	PeriodStart time.Time       `json:"periodStart"`
	PeriodEnd   time.Time       `json:"periodEnd"`
	DueDate     time.Time       `json:"dueDate"`
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	MinimumDue  decimal.Decimal `json:"minimumDue"`
	Paid        bool            `json:"paid"`
}

// CreditCard behaves as a pseudo-account in cross-entity views.
// CurrentOutstanding above CreditLimit is allowed; the limit is advisory.
type CreditCard struct {
	Meta
	Name               string          `json:"name"`
	Issuer             string          `json:"issuer,omitempty"`
	Currency           string          `json:"currency"`
	CreditLimit        decimal.Decimal `json:"creditLimit"`
	CurrentOutstanding decimal.Decimal `json:"currentOutstanding"`
	BillingDay         int             `json:"billingDay,omitempty"`
	Statements         []Statement     `json:"statements"`
}

// OverLimit reports whether the outstanding amount exceeds the limit.
func (c *CreditCard) OverLimit() bool {
	return c.CreditLimit.IsPositive() && c.CurrentOutstanding.GreaterThan(c.CreditLimit)
}
