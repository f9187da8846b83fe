package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// BudgetService manages budgets. Spent totals are derived from transactions.
type BudgetService struct {
	*Repo[model.Budget, *model.Budget]
	transactions *TransactionService
}

// NewBudgetService creates the budget service.
func NewBudgetService(store service.DocumentStore, bus *events.Bus, clock service.Clock, transactions *TransactionService) *BudgetService {
	repo := NewRepo[model.Budget](store, model.CollectionBudgets, bus, clock)
	repo.validate = validateBudget
	return &BudgetService{Repo: repo, transactions: transactions}
}

func validateBudget(b *model.Budget) error {
	if err := requireName(b.Name); err != nil {
		return err
	}
	switch b.BudgetMode {
	case model.BudgetMonthly, model.BudgetEvent:
	case "":
		b.BudgetMode = model.BudgetMonthly
	default:
		return common.Invalid("budgetMode", "must be MONTHLY or EVENT")
	}
	switch b.Status {
	case model.BudgetDraft, model.BudgetActive, model.BudgetClosed:
	case "":
		b.Status = model.BudgetDraft
	default:
		return common.Invalid("status", "is not a known budget status")
	}
	if err := requireNonNegative("totalBudget", b.TotalBudget); err != nil {
		return err
	}
	if b.StartDate.IsZero() || b.EndDate.IsZero() {
		return common.Invalid("startDate", "and endDate are required")
	}
	b.StartDate = normalizeDate(b.StartDate)
	b.EndDate = normalizeDate(b.EndDate)
	if !b.EndDate.After(b.StartDate) {
		return common.Invalid("endDate", "must be after startDate")
	}
	for i := range b.PlanItems {
		if b.PlanItems[i].ID == "" {
			b.PlanItems[i].ID = NewID()
		}
	}
	return nil
}

// ListByStatus returns the household's budgets in a given status.
func (s *BudgetService) ListByStatus(ctx context.Context, householdID string, status model.BudgetStatus) ([]*model.Budget, error) {
	if householdID == "" {
		return nil, common.ErrNoHousehold
	}
	return s.query(ctx, service.Query{
		Where: []service.Cond{
			{Field: service.FieldHousehold, Value: householdID},
			{Field: service.FieldStatus, Value: string(status)},
		},
	}, true)
}

// RecomputeSpent rebuilds TotalSpent and each plan item's Spent from the
// EXPENSE transactions dated within the budget period.
func (s *BudgetService) RecomputeSpent(ctx context.Context, id string) (*model.Budget, error) {
	budget, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		return nil, common.Invalid("budgetId", "does not exist")
	}

	txns, err := s.transactions.ListByDateRange(ctx, budget.HouseholdID, budget.StartDate, budget.EndDate)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	byCategory := make(map[string]decimal.Decimal)
	for _, t := range txns {
		if t.Type != model.TypeExpense {
			continue
		}
		total = total.Add(t.Amount)
		if t.CategoryID != "" {
			byCategory[t.CategoryID] = byCategory[t.CategoryID].Add(t.Amount)
		}
	}

	budget.TotalSpent = total
	for i := range budget.PlanItems {
		item := &budget.PlanItems[i]
		item.Spent = decimal.Zero
		if item.CategoryID != "" {
			item.Spent = byCategory[item.CategoryID]
		}
	}
	return s.Save(ctx, budget)
}
