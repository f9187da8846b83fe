package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// LoanService manages loans. Outstanding principal only goes down, except
// through Adjust.
type LoanService struct {
	*Repo[model.Loan, *model.Loan]
}

// NewLoanService creates the loan service.
func NewLoanService(store service.DocumentStore, bus *events.Bus, clock service.Clock) *LoanService {
	repo := NewRepo[model.Loan](store, model.CollectionLoans, bus, clock)
	repo.validate = validateLoan
	repo.checkUpdate = func(old, updated *model.Loan) error {
		if updated.OutstandingPrincipal.GreaterThan(old.OutstandingPrincipal) {
			return common.Invalid("outstandingPrincipal", "can only increase through an adjustment")
		}
		return nil
	}
	return &LoanService{Repo: repo}
}

func validateLoan(l *model.Loan) error {
	if err := requireName(l.Name); err != nil {
		return err
	}
	if err := requirePositive("principal", l.Principal); err != nil {
		return err
	}
	if err := requireNonNegative("outstandingPrincipal", l.OutstandingPrincipal); err != nil {
		return err
	}
	if err := requireNonNegative("interestRate", l.InterestRate); err != nil {
		return err
	}
	if l.TenureMonths <= 0 {
		return common.Invalid("tenureMonths", "must be greater than zero")
	}
	return nil
}

// Create records a loan. Outstanding principal defaults to the principal.
func (s *LoanService) Create(ctx context.Context, scope model.Scope, l *model.Loan) (*model.Loan, error) {
	if l.OutstandingPrincipal.IsZero() {
		l.OutstandingPrincipal = l.Principal
	}
	if !l.StartDate.IsZero() {
		l.StartDate = normalizeDate(l.StartDate)
	}
	return s.Repo.Create(ctx, scope, l)
}

func (s *LoanService) load(ctx context.Context, id string) (*model.Loan, error) {
	loan, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, common.Invalid("loanId", "does not exist")
	}
	return loan, nil
}

// RecordPayment reduces the outstanding principal, never below zero.
func (s *LoanService) RecordPayment(ctx context.Context, id string, amount decimal.Decimal) (*model.Loan, error) {
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}
	loan, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	loan.OutstandingPrincipal = decimal.Max(decimal.Zero, loan.OutstandingPrincipal.Sub(amount))
	return s.Save(ctx, loan)
}

// Adjust sets the outstanding principal explicitly and records why.
func (s *LoanService) Adjust(ctx context.Context, id string, outstanding decimal.Decimal, reason string) (*model.Loan, error) {
	if err := requireNonNegative("outstandingPrincipal", outstanding); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, common.Invalid("reason", "is required")
	}
	loan, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	loan.Adjustments = append(loan.Adjustments, model.LoanAdjustment{
		At:     s.now(),
		Reason: reason,
		From:   loan.OutstandingPrincipal,
		To:     outstanding,
	})
	loan.OutstandingPrincipal = outstanding
	return s.Save(ctx, loan)
}
