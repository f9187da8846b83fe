package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is how often a recurring transaction falls due.
type Frequency string

// Frequencies.
const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// Next returns the due date after from.
func (f Frequency) Next(from time.Time) (time.Time, bool) {
	switch f {
	case FrequencyDaily:
		return from.AddDate(0, 0, 1), true
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7), true
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0), true
	case FrequencyYearly:
		return from.AddDate(1, 0, 0), true
	}
	return from, false
}

// RecurringStatus is the lifecycle of a recurring transaction.
type RecurringStatus string

// Recurring statuses.
const (
	RecurringActive    RecurringStatus = "ACTIVE"
	RecurringPaused    RecurringStatus = "PAUSED"
	RecurringCompleted RecurringStatus = "COMPLETED"
)

// RecurringTransaction spawns Transactions on a schedule. NextDueDate only
// moves forward.
type RecurringTransaction struct {
	NextDueDate time.Time  `json:"nextDueDate"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Meta
	Description string          `json:"description"`
	Type        TransactionType `json:"transactionType"`
	AccountID   string          `json:"accountId"`
	CategoryID  string          `json:"categoryId,omitempty"`
	Frequency   Frequency       `json:"frequency"`
	Status      RecurringStatus `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
}
