package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// CreditCardService manages credit cards. The credit limit is advisory:
// charges beyond it are recorded and logged.
type CreditCardService struct {
	*Repo[model.CreditCard, *model.CreditCard]
}

// NewCreditCardService creates the credit card service.
func NewCreditCardService(store service.DocumentStore, bus *events.Bus, clock service.Clock) *CreditCardService {
	repo := NewRepo[model.CreditCard](store, model.CollectionCreditCards, bus, clock)
	repo.validate = validateCreditCard
	return &CreditCardService{Repo: repo}
}

func validateCreditCard(c *model.CreditCard) error {
	if err := requireName(c.Name); err != nil {
		return err
	}
	if err := requireNonNegative("creditLimit", c.CreditLimit); err != nil {
		return err
	}
	if c.BillingDay < 0 || c.BillingDay > 31 {
		return common.Invalid("billingDay", "must be between 1 and 31")
	}
	currency, err := normalizeCurrency(c.Currency)
	if err != nil {
		return err
	}
	c.Currency = currency
	return nil
}

func (s *CreditCardService) load(ctx context.Context, id string) (*model.CreditCard, error) {
	card, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, common.Invalid("creditCardId", "does not exist")
	}
	return card, nil
}

// RecordCharge adds amount to the outstanding balance.
func (s *CreditCardService) RecordCharge(ctx context.Context, id string, amount decimal.Decimal) (*model.CreditCard, error) {
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}
	card, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	card.CurrentOutstanding = card.CurrentOutstanding.Add(amount)
	if card.OverLimit() {
		slog.Warn("Credit card over limit",
			"card", card.ID,
			"outstanding", card.CurrentOutstanding.String(),
			"limit", card.CreditLimit.String())
	}
	return s.Save(ctx, card)
}

// RecordPayment reduces the outstanding balance and marks statements paid,
// oldest first, while the payment covers them.
func (s *CreditCardService) RecordPayment(ctx context.Context, id string, amount decimal.Decimal) (*model.CreditCard, error) {
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}
	card, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	card.CurrentOutstanding = card.CurrentOutstanding.Sub(amount)

	remaining := amount
	for i := range card.Statements {
		st := &card.Statements[i]
		if st.Paid {
			continue
		}
		if remaining.LessThan(st.Amount) {
			break
		}
		remaining = remaining.Sub(st.Amount)
		st.Paid = true
	}
	return s.Save(ctx, card)
}

// AddStatement appends a billing statement.
func (s *CreditCardService) AddStatement(ctx context.Context, id string, st model.Statement) (*model.CreditCard, error) {
	if err := requireNonNegative("amount", st.Amount); err != nil {
		return nil, err
	}
	if st.PeriodEnd.Before(st.PeriodStart) {
		return nil, common.Invalid("periodEnd", "must not be before periodStart")
	}
	card, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.ID == "" {
		st.ID = NewID()
	}
	st.PeriodStart = normalizeDate(st.PeriodStart)
	st.PeriodEnd = normalizeDate(st.PeriodEnd)
	st.DueDate = normalizeDate(st.DueDate)
	card.Statements = append(card.Statements, st)
	return s.Save(ctx, card)
}
