package model

import "github.com/shopspring/decimal"

// AccountType classifies an account.
type AccountType string

// Account types.
const (
	AccountSavings    AccountType = "SAVINGS"
	AccountCurrent    AccountType = "CURRENT"
	AccountCash       AccountType = "CASH"
	AccountWallet     AccountType = "WALLET"
	AccountInvestment AccountType = "INVESTMENT"
	AccountLoan       AccountType = "LOAN"
	AccountOther      AccountType = "OTHER"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountSavings, AccountCurrent, AccountCash, AccountWallet,
		AccountInvestment, AccountLoan, AccountOther:
		return true
	}
	return false
}

// Account is a money-holding account. Balance changes through transaction
// side effects or a direct edit.
// AppliedIntents holds the ids of the latest transaction intents whose
// balance effect has been applied to this account.
type Account struct {
	Meta
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	Currency       string          `json:"currency"`
	AppliedIntents []string        `json:"appliedIntents,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
}
