package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money movement.
type TransactionType string

// Transaction types.
const (
	TypeIncome     TransactionType = "INCOME"
	TypeExpense    TransactionType = "EXPENSE"
	TypeTransfer   TransactionType = "TRANSFER"
	TypeInvestment TransactionType = "INVESTMENT"
	TypeDebt       TransactionType = "DEBT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer, TypeInvestment, TypeDebt:
		return true
	}
	return false
}

// Transaction is a single money movement against an account.
type Transaction struct {
	Meta
	Date          time.Time       `json:"date"`
	Type          TransactionType `json:"type"`
	AccountID     string          `json:"accountId"`
	ToAccountID   string          `json:"toAccountId,omitempty"`
	CategoryID    string          `json:"categoryId,omitempty"`
	SubCategoryID string          `json:"subCategoryId,omitempty"`
	Description   string          `json:"description,omitempty"`
	ExternalID    string          `json:"externalId,omitempty"`
	RecurringID   string          `json:"recurringId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// BalanceEffect is a signed change to one account's balance.
type BalanceEffect struct {
	AccountID string          `json:"accountId"`
	Delta     decimal.Decimal `json:"delta"`
}

// Effects returns the balance changes this transaction causes.
// INCOME credits the account; EXPENSE, INVESTMENT and DEBT (a repayment)
// debit it; TRANSFER debits the source and credits ToAccountID when set.
func (t *Transaction) Effects() []BalanceEffect {
	switch t.Type {
	case TypeIncome:
		return []BalanceEffect{{AccountID: t.AccountID, Delta: t.Amount}}
	case TypeTransfer:
		effects := []BalanceEffect{{AccountID: t.AccountID, Delta: t.Amount.Neg()}}
		if t.ToAccountID != "" && t.ToAccountID != t.AccountID {
			effects = append(effects, BalanceEffect{AccountID: t.ToAccountID, Delta: t.Amount})
		}
		return effects
	default:
		return []BalanceEffect{{AccountID: t.AccountID, Delta: t.Amount.Neg()}}
	}
}

// IntentOp is the kind of write an intent protects.
type IntentOp string

// Intent operations.
const (
	IntentCreate IntentOp = "create"
	IntentUpdate IntentOp = "update"
	IntentDelete IntentOp = "delete"
)

// Intent records a transaction write whose balance side effects are applied
// in separate document writes. It lives until both halves are on disk.
// Transaction is the body to store for create and update; TxnBaseRev is the
// revision the update or delete was made against.
type Intent struct {
	CreatedAt     time.Time       `json:"createdAt"`
	ID            string          `json:"id"`
	Rev           string          `json:"_rev,omitempty"`
	HouseholdID   string          `json:"householdId"`
	Op            IntentOp        `json:"op"`
	TransactionID string          `json:"transactionId"`
	TxnBaseRev    string          `json:"txnBaseRev,omitempty"`
	Transaction   json.RawMessage `json:"transaction,omitempty"`
	Effects       []BalanceEffect `json:"effects"`
}

// Reverse returns the effects that undo effects.
func Reverse(effects []BalanceEffect) []BalanceEffect {
	out := make([]BalanceEffect, len(effects))
	for i, e := range effects {
		out[i] = BalanceEffect{AccountID: e.AccountID, Delta: e.Delta.Neg()}
	}
	return out
}
