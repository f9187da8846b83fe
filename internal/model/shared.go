package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSummary is the published view of one account.
type AccountSummary struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     AccountType     `json:"type"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// SharedSnapshot is the read-only projection a household publishes for
// viewers. Only the publish operation writes it.
type SharedSnapshot struct {
	PublishedAt time.Time `json:"publishedAt"`
	Meta
	Accounts         []AccountSummary `json:"accounts"`
	TotalBalance     decimal.Decimal  `json:"totalBalance"`
	TotalOutstanding decimal.Decimal  `json:"totalOutstanding"`
	ActiveBudgets    int              `json:"activeBudgets"`
	Published        bool             `json:"published"`
}

// SnapshotID is the document id of a household's published snapshot.
func SnapshotID(householdID string) string {
	return householdID + "_snapshot"
}
