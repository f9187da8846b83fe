package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanAdjustment records an explicit change to the outstanding principal.
type LoanAdjustment struct {
	At     time.Time       `json:"at"`
	Reason string          `json:"reason"`
	From   decimal.Decimal `json:"from"`
	To     decimal.Decimal `json:"to"`
}

// Loan tracks borrowed principal. OutstandingPrincipal only decreases, except
// through an explicit adjustment.
type Loan struct {
	StartDate time.Time `json:"startDate"`
	Meta
	Name                 string           `json:"name"`
	Lender               string           `json:"lender,omitempty"`
	LinkedAccountID      string           `json:"linkedAccountId,omitempty"`
	Principal            decimal.Decimal  `json:"principal"`
	OutstandingPrincipal decimal.Decimal  `json:"outstandingPrincipal"`
	InterestRate         decimal.Decimal  `json:"interestRate"`
	TenureMonths         int              `json:"tenureMonths"`
	Adjustments          []LoanAdjustment `json:"adjustments,omitempty"`
}
