package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// SharedService publishes the household's read-only snapshot. Publish is the
// only writer of the shared collection.
type SharedService struct {
	repo     *Repo[model.SharedSnapshot, *model.SharedSnapshot]
	accounts *AccountService
	cards    *CreditCardService
	budgets  *BudgetService
}

// NewSharedService creates the snapshot publisher.
func NewSharedService(store service.DocumentStore, bus *events.Bus, clock service.Clock, accounts *AccountService, cards *CreditCardService, budgets *BudgetService) *SharedService {
	return &SharedService{
		repo:     NewRepo[model.SharedSnapshot](store, model.CollectionShared, bus, clock),
		accounts: accounts,
		cards:    cards,
		budgets:  budgets,
	}
}

// Publish rebuilds the household snapshot from its active entities.
func (s *SharedService) Publish(ctx context.Context, scope model.Scope) (*model.SharedSnapshot, error) {
	accounts, err := s.accounts.GetAllActive(ctx, scope.HouseholdID)
	if err != nil {
		return nil, err
	}
	cards, err := s.cards.GetAllActive(ctx, scope.HouseholdID)
	if err != nil {
		return nil, err
	}
	active, err := s.budgets.ListByStatus(ctx, scope.HouseholdID, model.BudgetActive)
	if err != nil {
		return nil, err
	}

	snap := &model.SharedSnapshot{
		Published:        true,
		PublishedAt:      s.repo.now(),
		TotalBalance:     decimal.Zero,
		TotalOutstanding: decimal.Zero,
		ActiveBudgets:    len(active),
		Accounts:         make([]model.AccountSummary, 0, len(accounts)),
	}
	for _, a := range accounts {
		snap.Accounts = append(snap.Accounts, model.AccountSummary{
			ID:       a.ID,
			Name:     a.Name,
			Type:     a.Type,
			Currency: a.Currency,
			Balance:  a.Balance,
		})
		snap.TotalBalance = snap.TotalBalance.Add(a.Balance)
	}
	for _, c := range cards {
		snap.TotalOutstanding = snap.TotalOutstanding.Add(c.CurrentOutstanding)
	}

	existing, err := s.repo.GetByID(ctx, model.SnapshotID(scope.HouseholdID))
	if err != nil {
		return nil, err
	}
	if existing == nil {
		snap.ID = model.SnapshotID(scope.HouseholdID)
		return s.repo.Create(ctx, scope, snap)
	}

	snap.Meta = existing.Meta
	return s.repo.Save(ctx, snap)
}

// Get returns the published snapshot of a household, or nil.
func (s *SharedService) Get(ctx context.Context, householdID string) (*model.SharedSnapshot, error) {
	return s.repo.GetByID(ctx, model.SnapshotID(householdID))
}
