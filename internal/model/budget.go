package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetStatus is the lifecycle of a budget.
type BudgetStatus string

// Budget statuses.
const (
	BudgetDraft  BudgetStatus = "DRAFT"
	BudgetActive BudgetStatus = "ACTIVE"
	BudgetClosed BudgetStatus = "CLOSED"
)

// BudgetMode selects how a budget period is defined.
type BudgetMode string

// Budget modes.
const (
	BudgetMonthly BudgetMode = "MONTHLY"
	BudgetEvent   BudgetMode = "EVENT"
)

// PlanItem is a nested budget line, optionally tied to a category.
type PlanItem struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CategoryID string          `json:"categoryId,omitempty"`
	Planned    decimal.Decimal `json:"planned"`
	Spent      decimal.Decimal `json:"spent"`
}

// Budget caps spending over a period. TotalSpent is a cache that can always
// be recomputed from transactions.
type Budget struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Meta
	Name        string          `json:"name"`
	BudgetMode  BudgetMode      `json:"budgetMode"`
	Status      BudgetStatus    `json:"status"`
	TotalBudget decimal.Decimal `json:"totalBudget"`
	TotalSpent  decimal.Decimal `json:"totalSpent"`
	PlanItems   []PlanItem      `json:"planItems"`
}
