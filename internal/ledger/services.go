package ledger

import (
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/service"
)

// Services bundles the entity services over one store.
type Services struct {
	Accounts     *AccountService
	Transactions *TransactionService
	Categories   *CategoryService
	CreditCards  *CreditCardService
	Loans        *LoanService
	Budgets      *BudgetService
	Recurring    *RecurringService
	Shared       *SharedService
}

// New wires every entity service. A nil clock means the system clock.
func New(store service.DocumentStore, bus *events.Bus, clock service.Clock) *Services {
	accounts := NewAccountService(store, bus, clock)
	transactions := NewTransactionService(store, bus, clock, accounts)
	cards := NewCreditCardService(store, bus, clock)
	budgets := NewBudgetService(store, bus, clock, transactions)
	return &Services{
		Accounts:     accounts,
		Transactions: transactions,
		Categories:   NewCategoryService(store, bus, clock),
		CreditCards:  cards,
		Loans:        NewLoanService(store, bus, clock),
		Budgets:      budgets,
		Recurring:    NewRecurringService(store, bus, clock, transactions),
		Shared:       NewSharedService(store, bus, clock, accounts, cards, budgets),
	}
}
