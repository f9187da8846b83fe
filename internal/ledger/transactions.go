package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// maxAppliedIntents bounds the intent ids remembered on each account.
const maxAppliedIntents = 16

// TransactionService records transactions and keeps account balances in step.
//
// A write that moves money is two document writes, the account balances and
// the transaction itself. Before either, an intent describing both halves is
// stored in the local intents collection. Each account remembers the intents
// applied to it, so Recover can finish an interrupted write without applying
// a balance change twice.
type TransactionService struct {
	*Repo[model.Transaction, *model.Transaction]
	accounts *AccountService
	intents  service.Collection
}

// NewTransactionService creates the transaction service.
func NewTransactionService(store service.DocumentStore, bus *events.Bus, clock service.Clock, accounts *AccountService) *TransactionService {
	repo := NewRepo[model.Transaction](store, model.CollectionTransactions, bus, clock)
	repo.validate = validateTransaction
	return &TransactionService{
		Repo:     repo,
		accounts: accounts,
		intents:  store.Collection(model.CollectionIntents),
	}
}

func validateTransaction(t *model.Transaction) error {
	if !t.Type.Valid() {
		return common.Invalid("type", "is not a known transaction type")
	}
	if err := requirePositive("amount", t.Amount); err != nil {
		return err
	}
	if t.AccountID == "" {
		return common.Invalid("accountId", "is required")
	}
	if t.Type == model.TypeTransfer && t.ToAccountID == t.AccountID {
		return common.Invalid("toAccountId", "must differ from accountId")
	}
	if t.Date.IsZero() {
		return common.Invalid("date", "is required")
	}
	t.Date = normalizeDate(t.Date)
	return nil
}

// checkAccounts makes sure every account the effects touch exists in the
// household.
func (s *TransactionService) checkAccounts(ctx context.Context, householdID string, effects []model.BalanceEffect) error {
	for _, e := range effects {
		account, err := s.accounts.GetByID(ctx, e.AccountID)
		if err != nil {
			return err
		}
		if account == nil || account.HouseholdID != householdID {
			return common.Invalid("accountId", fmt.Sprintf("%q is not an account of this household", e.AccountID))
		}
	}
	return nil
}

// Create records a transaction and applies its balance effect.
func (s *TransactionService) Create(ctx context.Context, scope model.Scope, t *model.Transaction) (*model.Transaction, error) {
	if t.Date.IsZero() {
		t.Date = s.now()
	}
	if err := s.stamp(scope, t); err != nil {
		return nil, err
	}
	if err := validateTransaction(t); err != nil {
		return nil, err
	}
	if err := s.checkUnused(ctx, t.ID); err != nil {
		return nil, err
	}

	effects := t.Effects()
	if err := s.checkAccounts(ctx, t.HouseholdID, effects); err != nil {
		return nil, err
	}

	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	rev, err := s.run(ctx, &model.Intent{
		ID:            NewID(),
		CreatedAt:     s.now(),
		HouseholdID:   t.HouseholdID,
		Op:            model.IntentCreate,
		TransactionID: t.ID,
		Transaction:   body,
		Effects:       effects,
	})
	if err != nil {
		return nil, err
	}
	t.Rev = rev
	return t, nil
}

// checkUnused rejects a caller-chosen id that already names a live
// transaction.
func (s *TransactionService) checkUnused(ctx context.Context, id string) error {
	existing, err := s.coll.Get(ctx, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: transaction %s already exists", common.ErrConflict, id)
	}
	return nil
}

// Update merges partial into the transaction and moves balances by the
// difference between the old and new effects.
func (s *TransactionService) Update(ctx context.Context, id string, partial map[string]any) (*model.Transaction, error) {
	old, updated, err := s.merge(ctx, id, partial)
	if err != nil {
		return nil, err
	}

	effects := combineEffects(model.Reverse(old.Effects()), updated.Effects())
	if err := s.checkAccounts(ctx, updated.HouseholdID, updated.Effects()); err != nil {
		return nil, err
	}

	body, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	rev, err := s.run(ctx, &model.Intent{
		ID:            NewID(),
		CreatedAt:     s.now(),
		HouseholdID:   updated.HouseholdID,
		Op:            model.IntentUpdate,
		TransactionID: id,
		TxnBaseRev:    old.Rev,
		Transaction:   body,
		Effects:       effects,
	})
	if err != nil {
		return nil, err
	}
	updated.Rev = rev
	return updated, nil
}

// Delete removes the transaction and reverses its balance effect. Deleting
// a missing transaction succeeds.
func (s *TransactionService) Delete(ctx context.Context, id string) error {
	t, err := s.GetByID(ctx, id)
	if err != nil || t == nil {
		return err
	}

	_, err = s.run(ctx, &model.Intent{
		ID:            NewID(),
		CreatedAt:     s.now(),
		HouseholdID:   t.HouseholdID,
		Op:            model.IntentDelete,
		TransactionID: id,
		TxnBaseRev:    t.Rev,
		Effects:       model.Reverse(t.Effects()),
	})
	return err
}

// run carries out an intent: record it, apply the balance effects, write the
// transaction, then forget the intent. If nothing was applied the intent is
// dropped and the error returned as is; after that, failures leave the intent
// for Recover and return ErrPartialConsistency.
func (s *TransactionService) run(ctx context.Context, intent *model.Intent) (string, error) {
	if err := s.saveIntent(ctx, intent); err != nil {
		return "", fmt.Errorf("failed to record intent: %w", err)
	}

	applied, err := s.applyEffects(ctx, intent)
	if err != nil {
		if applied == 0 {
			s.dropIntent(ctx, intent)
			return "", err
		}
		return "", s.partial(intent, err)
	}

	rev, err := s.commit(ctx, intent)
	if err != nil {
		return "", s.partial(intent, err)
	}

	s.dropIntent(ctx, intent)
	s.emit()
	return rev, nil
}

func (s *TransactionService) partial(intent *model.Intent, err error) error {
	common.LogError(err, "Transaction write left balances out of step", common.Fields{
		"intent":      intent.ID,
		"op":          string(intent.Op),
		"transaction": intent.TransactionID,
	})
	return fmt.Errorf("%w: transaction %s: %w", common.ErrPartialConsistency, intent.TransactionID, err)
}

// applyEffects applies each balance change not yet recorded on its account
// and reports how many it applied.
func (s *TransactionService) applyEffects(ctx context.Context, intent *model.Intent) (int, error) {
	applied := 0
	for _, e := range intent.Effects {
		if e.Delta.IsZero() {
			continue
		}
		account, err := s.accounts.GetByID(ctx, e.AccountID)
		if err != nil {
			return applied, err
		}
		if account == nil {
			slog.Warn("Skipping balance effect on missing account",
				"intent", intent.ID, "account", e.AccountID)
			continue
		}
		if slices.Contains(account.AppliedIntents, intent.ID) {
			continue
		}

		account.Balance = account.Balance.Add(e.Delta)
		account.AppliedIntents = append(account.AppliedIntents, intent.ID)
		if n := len(account.AppliedIntents); n > maxAppliedIntents {
			account.AppliedIntents = account.AppliedIntents[n-maxAppliedIntents:]
		}
		if _, err := s.accounts.Save(ctx, account); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// commit writes the transaction half of an intent. For a create it is a
// no-op when that half is already on disk, which only happens when Recover
// replays an intent whose write landed; Create refuses ids in use.
func (s *TransactionService) commit(ctx context.Context, intent *model.Intent) (string, error) {
	current, err := s.coll.Get(ctx, intent.TransactionID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return "", err
	}

	switch intent.Op {
	case model.IntentCreate:
		if current != nil {
			return current.Rev, nil
		}
		return s.coll.Put(ctx, model.Document{ID: intent.TransactionID, Body: intent.Transaction})
	case model.IntentUpdate:
		if current == nil {
			slog.Warn("Transaction vanished before update was written", "transaction", intent.TransactionID)
			return "", nil
		}
		if current.Rev != intent.TxnBaseRev {
			return current.Rev, nil
		}
		return s.coll.Put(ctx, model.Document{ID: intent.TransactionID, Rev: current.Rev, Body: intent.Transaction})
	case model.IntentDelete:
		if current == nil {
			return "", nil
		}
		return s.coll.Delete(ctx, intent.TransactionID, current.Rev)
	}
	return "", fmt.Errorf("unknown intent op %q", intent.Op)
}

func (s *TransactionService) saveIntent(ctx context.Context, intent *model.Intent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	rev, err := s.intents.Put(ctx, model.Document{ID: intent.ID, Rev: intent.Rev, Body: body})
	if err != nil {
		return err
	}
	intent.Rev = rev
	return nil
}

func (s *TransactionService) dropIntent(ctx context.Context, intent *model.Intent) {
	if _, err := s.intents.Delete(ctx, intent.ID, intent.Rev); err != nil {
		slog.Warn("Failed to remove completed intent", "intent", intent.ID, "error", err)
	}
}

// Pending returns the intents that have not completed.
func (s *TransactionService) Pending(ctx context.Context) ([]*model.Intent, error) {
	docs, err := s.intents.Query(ctx, service.Query{})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Intent, 0, len(docs))
	for _, doc := range docs {
		var intent model.Intent
		if err := json.Unmarshal(doc.Body, &intent); err != nil {
			return nil, fmt.Errorf("failed to decode intent %s: %w", doc.ID, err)
		}
		intent.Rev = doc.Rev
		out = append(out, &intent)
	}
	return out, nil
}

// Recover finishes every pending intent, applying the balance effects that
// did not land and writing the transaction half if it is missing. It returns
// how many intents were completed.
func (s *TransactionService) Recover(ctx context.Context) (int, error) {
	pending, err := s.Pending(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	done := 0
	for _, intent := range pending {
		if _, err := s.applyEffects(ctx, intent); err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			continue
		}
		if _, err := s.commit(ctx, intent); err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			continue
		}
		s.dropIntent(ctx, intent)
		done++
		slog.Info("Recovered interrupted transaction write",
			"intent", intent.ID, "op", string(intent.Op), "transaction", intent.TransactionID)
	}
	if done > 0 {
		s.emit()
	}
	return done, errors.Join(errs...)
}

// ListByAccount returns the transactions booked against an account, oldest first.
func (s *TransactionService) ListByAccount(ctx context.Context, accountID string) ([]*model.Transaction, error) {
	return s.query(ctx, service.Query{
		Where:   []service.Cond{{Field: service.FieldAccount, Value: accountID}},
		OrderBy: service.FieldDate,
	}, false)
}

// ListByDateRange returns the household's transactions dated in [from, to),
// oldest first.
func (s *TransactionService) ListByDateRange(ctx context.Context, householdID string, from, to time.Time) ([]*model.Transaction, error) {
	if householdID == "" {
		return nil, common.ErrNoHousehold
	}
	return s.query(ctx, service.Query{
		Where: []service.Cond{
			{Field: service.FieldHousehold, Value: householdID},
			{Field: service.FieldDate, Op: ">=", Value: dateKey(from)},
			{Field: service.FieldDate, Op: "<", Value: dateKey(to)},
		},
		OrderBy: service.FieldDate,
	}, false)
}

// ImportResult counts the outcome of ImportEntries.
type ImportResult struct {
	Created int
	Skipped int
}

// ImportEntries creates transactions from an external statement. Entries
// whose ExternalID is already recorded on their account are skipped.
// progress, if set, is called once per entry.
func (s *TransactionService) ImportEntries(ctx context.Context, scope model.Scope, entries []*model.Transaction, progress func()) (ImportResult, error) {
	var result ImportResult
	seen := make(map[string]map[string]bool)

	for _, entry := range entries {
		if progress != nil {
			progress()
		}

		known, ok := seen[entry.AccountID]
		if !ok {
			existing, err := s.ListByAccount(ctx, entry.AccountID)
			if err != nil {
				return result, err
			}
			known = make(map[string]bool, len(existing))
			for _, t := range existing {
				if t.ExternalID != "" {
					known[t.ExternalID] = true
				}
			}
			seen[entry.AccountID] = known
		}

		if entry.ExternalID != "" && known[entry.ExternalID] {
			result.Skipped++
			continue
		}
		if _, err := s.Create(ctx, scope, entry); err != nil {
			return result, fmt.Errorf("failed to import %s: %w", entry.ExternalID, err)
		}
		if entry.ExternalID != "" {
			known[entry.ExternalID] = true
		}
		result.Created++
	}
	return result, nil
}

// combineEffects merges effects per account, dropping those that cancel out.
func combineEffects(lists ...[]model.BalanceEffect) []model.BalanceEffect {
	var out []model.BalanceEffect
	index := make(map[string]int)
	for _, list := range lists {
		for _, e := range list {
			if i, ok := index[e.AccountID]; ok {
				out[i].Delta = out[i].Delta.Add(e.Delta)
				continue
			}
			index[e.AccountID] = len(out)
			out = append(out, e)
		}
	}
	return slices.DeleteFunc(out, func(e model.BalanceEffect) bool { return e.Delta.IsZero() })
}
