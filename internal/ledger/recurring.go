package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// maxCatchUp bounds how many missed occurrences SpawnDue creates per item.
const maxCatchUp = 366

// RecurringService manages recurring transactions. NextDueDate only moves
// forward.
type RecurringService struct {
	*Repo[model.RecurringTransaction, *model.RecurringTransaction]
	transactions *TransactionService
}

// NewRecurringService creates the recurring transaction service.
func NewRecurringService(store service.DocumentStore, bus *events.Bus, clock service.Clock, transactions *TransactionService) *RecurringService {
	repo := NewRepo[model.RecurringTransaction](store, model.CollectionRecurring, bus, clock)
	repo.validate = validateRecurring
	repo.checkUpdate = func(old, updated *model.RecurringTransaction) error {
		if updated.NextDueDate.Before(old.NextDueDate) {
			return common.Invalid("nextDueDate", "cannot move backwards")
		}
		return nil
	}
	return &RecurringService{Repo: repo, transactions: transactions}
}

func validateRecurring(r *model.RecurringTransaction) error {
	if !r.Type.Valid() {
		return common.Invalid("transactionType", "is not a known transaction type")
	}
	if err := requirePositive("amount", r.Amount); err != nil {
		return err
	}
	if r.AccountID == "" {
		return common.Invalid("accountId", "is required")
	}
	if _, ok := r.Frequency.Next(r.NextDueDate); !ok {
		return common.Invalid("frequency", "must be DAILY, WEEKLY, MONTHLY or YEARLY")
	}
	if r.NextDueDate.IsZero() {
		return common.Invalid("nextDueDate", "is required")
	}
	r.NextDueDate = normalizeDate(r.NextDueDate)
	switch r.Status {
	case model.RecurringActive, model.RecurringPaused, model.RecurringCompleted:
	case "":
		r.Status = model.RecurringActive
	default:
		return common.Invalid("status", "is not a known recurring status")
	}
	return nil
}

// advance moves r one period forward, completing it past its end date.
func advance(r *model.RecurringTransaction) {
	next, _ := r.Frequency.Next(r.NextDueDate)
	r.NextDueDate = next
	if r.EndDate != nil && next.After(*r.EndDate) {
		r.Status = model.RecurringCompleted
	}
}

// Advance moves the next due date one period forward.
func (s *RecurringService) Advance(ctx context.Context, id string) (*model.RecurringTransaction, error) {
	r, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, common.Invalid("recurringId", "does not exist")
	}
	advance(r)
	return s.Save(ctx, r)
}

// Due returns the household's active recurring transactions due at or before now.
func (s *RecurringService) Due(ctx context.Context, householdID string, now time.Time) ([]*model.RecurringTransaction, error) {
	if householdID == "" {
		return nil, common.ErrNoHousehold
	}
	return s.query(ctx, service.Query{
		Where: []service.Cond{
			{Field: service.FieldHousehold, Value: householdID},
			{Field: service.FieldNextDueDate, Op: "<=", Value: dateKey(now)},
			{Field: service.FieldStatus, Value: string(model.RecurringActive)},
		},
		OrderBy: service.FieldNextDueDate,
	}, true)
}

// SpawnDue creates a transaction for every occurrence that has fallen due
// and advances each recurring item past now.
func (s *RecurringService) SpawnDue(ctx context.Context, scope model.Scope, now time.Time) ([]*model.Transaction, error) {
	due, err := s.Due(ctx, scope.HouseholdID, now)
	if err != nil {
		return nil, err
	}

	var spawned []*model.Transaction
	for _, r := range due {
		for i := 0; i < maxCatchUp && r.Status == model.RecurringActive && !r.NextDueDate.After(now); i++ {
			t, err := s.transactions.Create(ctx, scope, &model.Transaction{
				Date:        r.NextDueDate,
				Type:        r.Type,
				AccountID:   r.AccountID,
				CategoryID:  r.CategoryID,
				Description: r.Description,
				RecurringID: r.ID,
				Amount:      r.Amount,
			})
			if err != nil {
				return spawned, fmt.Errorf("failed to spawn %s: %w", r.ID, err)
			}
			spawned = append(spawned, t)
			advance(r)
		}
		if _, err := s.Save(ctx, r); err != nil {
			return spawned, err
		}
	}
	return spawned, nil
}
