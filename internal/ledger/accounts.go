package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// AccountService manages accounts.
type AccountService struct {
	*Repo[model.Account, *model.Account]
}

// NewAccountService creates the account service.
func NewAccountService(store service.DocumentStore, bus *events.Bus, clock service.Clock) *AccountService {
	repo := NewRepo[model.Account](store, model.CollectionAccounts, bus, clock)
	repo.validate = validateAccount
	return &AccountService{Repo: repo}
}

func validateAccount(a *model.Account) error {
	if err := requireName(a.Name); err != nil {
		return err
	}
	if !a.Type.Valid() {
		return common.Invalid("type", "is not a known account type")
	}
	currency, err := normalizeCurrency(a.Currency)
	if err != nil {
		return err
	}
	a.Currency = currency
	return nil
}

// AdjustBalance adds delta to the account balance as a direct edit.
func (s *AccountService) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Account, error) {
	account, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, common.Invalid("accountId", "does not exist")
	}
	account.Balance = account.Balance.Add(delta)
	return s.Save(ctx, account)
}

// TotalBalance sums the balances of the household's active accounts.
func (s *AccountService) TotalBalance(ctx context.Context, householdID string) (decimal.Decimal, error) {
	accounts, err := s.GetAllActive(ctx, householdID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}
	return total, nil
}
