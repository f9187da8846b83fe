package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
)

func TestTransactionService_BalanceEffects(t *testing.T) {
	tests := []struct {
		name        string
		txnType     model.TransactionType
		wantFrom    string
		wantTo      string
		useTransfer bool
	}{
		{name: "income credits", txnType: model.TypeIncome, wantFrom: "1250"},
		{name: "expense debits", txnType: model.TypeExpense, wantFrom: "750"},
		{name: "investment debits", txnType: model.TypeInvestment, wantFrom: "750"},
		{name: "debt repayment debits", txnType: model.TypeDebt, wantFrom: "750"},
		{name: "transfer moves money", txnType: model.TypeTransfer, wantFrom: "750", wantTo: "350", useTransfer: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			from := env.account(t, hh1, "Salary", 1000)
			to := env.account(t, hh1, "Savings", 100)

			txn := &model.Transaction{
				Type:      tt.txnType,
				AccountID: from.ID,
				Amount:    decimal.NewFromInt(250),
				Date:      day(2),
			}
			if tt.useTransfer {
				txn.ToAccountID = to.ID
			}

			created, err := env.svc.Transactions.Create(ctx, hh1, txn)
			require.NoError(t, err)
			assert.NotEmpty(t, created.Rev)
			assert.Equal(t, tt.wantFrom, env.balance(t, from.ID))
			if tt.useTransfer {
				assert.Equal(t, tt.wantTo, env.balance(t, to.ID))
			} else {
				assert.Equal(t, "100", env.balance(t, to.ID))
			}

			require.NoError(t, env.svc.Transactions.Delete(ctx, created.ID))
			assert.Equal(t, "1000", env.balance(t, from.ID))
			assert.Equal(t, "100", env.balance(t, to.ID))

			got, err := env.svc.Transactions.GetByID(ctx, created.ID)
			require.NoError(t, err)
			assert.Nil(t, got)

			pending, err := env.svc.Transactions.Pending(ctx)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestTransactionService_CreateRejectsExistingID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.account(t, hh1, "Checking", 1000)

	txn, err := env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
		Type: model.TypeExpense, AccountID: a.ID, Amount: decimal.NewFromInt(100), Date: day(1),
	})
	require.NoError(t, err)
	require.Equal(t, "900", env.balance(t, a.ID))

	_, err = env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
		Meta: model.Meta{ID: txn.ID},
		Type: model.TypeExpense, AccountID: a.ID, Amount: decimal.NewFromInt(100), Date: day(1),
	})
	require.ErrorIs(t, err, common.ErrConflict)

	assert.Equal(t, "900", env.balance(t, a.ID))
	listed, err := env.svc.Transactions.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	pending, err := env.svc.Transactions.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransactionService_DeleteMissingSucceeds(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.svc.Transactions.Delete(context.Background(), "nope"))
}

func TestTransactionService_UpdateMovesBalances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.account(t, hh1, "A", 1000)
	b := env.account(t, hh1, "B", 1000)

	txn, err := env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
		Type: model.TypeExpense, AccountID: a.ID, Amount: decimal.NewFromInt(100), Date: day(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "900", env.balance(t, a.ID))

	updated, err := env.svc.Transactions.Update(ctx, txn.ID, map[string]any{"amount": "40"})
	require.NoError(t, err)
	assert.Equal(t, "40", updated.Amount.String())
	assert.Equal(t, "960", env.balance(t, a.ID))

	_, err = env.svc.Transactions.Update(ctx, txn.ID, map[string]any{"accountId": b.ID})
	require.NoError(t, err)
	assert.Equal(t, "1000", env.balance(t, a.ID))
	assert.Equal(t, "960", env.balance(t, b.ID))

	_, err = env.svc.Transactions.Update(ctx, txn.ID, map[string]any{"description": "groceries"})
	require.NoError(t, err)
	assert.Equal(t, "960", env.balance(t, b.ID))

	_, err = env.svc.Transactions.Update(ctx, txn.ID, map[string]any{"amount": "-5"})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, "960", env.balance(t, b.ID))
}

func TestTransactionService_RequiresAccountInHousehold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	foreign := env.account(t, model.Scope{HouseholdID: "HH2"}, "Theirs", 0)

	_, err := env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
		Type: model.TypeIncome, AccountID: foreign.ID, Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
		Type: model.TypeIncome, AccountID: "missing", Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
		Type: model.TypeIncome, AccountID: foreign.ID, Amount: decimal.Zero,
	})
	assert.ErrorIs(t, err, common.ErrValidation)

	assert.Equal(t, "0", env.balance(t, foreign.ID))
}

func TestTransactionService_EmitsBothTopics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.account(t, hh1, "A", 0)

	var accounts, transactions int
	env.bus.On(events.TopicAccounts, func() { accounts++ })
	env.bus.On(events.TopicTransactions, func() { transactions++ })

	_, err := env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
		Type: model.TypeIncome, AccountID: a.ID, Amount: decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, accounts)
	assert.Equal(t, 1, transactions)
}

func TestTransactionService_PartialFailureAndRecover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.account(t, hh1, "A", 100)

	diskFull := errors.New("disk full")
	env.fail.setFailure(model.CollectionTransactions, diskFull)

	txn := &model.Transaction{Type: model.TypeIncome, AccountID: a.ID, Amount: decimal.NewFromInt(50), Date: day(4)}
	_, err := env.svc.Transactions.Create(ctx, hh1, txn)
	require.ErrorIs(t, err, common.ErrPartialConsistency)
	assert.ErrorIs(t, err, diskFull)

	assert.Equal(t, "150", env.balance(t, a.ID))
	got, err := env.svc.Transactions.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, err := env.svc.Transactions.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, txn.ID, pending[0].TransactionID)

	_, err = env.svc.Transactions.Recover(ctx)
	assert.ErrorIs(t, err, diskFull)

	env.fail.setFailure(model.CollectionTransactions, nil)
	done, err := env.svc.Transactions.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	assert.Equal(t, "150", env.balance(t, a.ID), "effect is not applied twice")
	got, err = env.svc.Transactions.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "50", got.Amount.String())

	pending, err = env.svc.Transactions.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransactionService_FailureBeforeBalanceWriteLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.account(t, hh1, "A", 100)

	locked := errors.New("locked")
	env.fail.setFailure(model.CollectionAccounts, locked)

	_, err := env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
		Type: model.TypeExpense, AccountID: a.ID, Amount: decimal.NewFromInt(10),
	})
	require.ErrorIs(t, err, locked)
	assert.NotErrorIs(t, err, common.ErrPartialConsistency)

	env.fail.setFailure(model.CollectionAccounts, nil)
	assert.Equal(t, "100", env.balance(t, a.ID))
	pending, err := env.svc.Transactions.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransactionService_Listing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.account(t, hh1, "A", 0)
	b := env.account(t, hh1, "B", 0)

	for _, tc := range []struct {
		account string
		d       int
	}{{a.ID, 5}, {a.ID, 1}, {b.ID, 3}, {a.ID, 9}} {
		_, err := env.svc.Transactions.Create(ctx, hh1, &model.Transaction{
			Type: model.TypeIncome, AccountID: tc.account, Amount: decimal.NewFromInt(1), Date: day(tc.d),
		})
		require.NoError(t, err)
	}

	byAccount, err := env.svc.Transactions.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, byAccount, 3)
	assert.True(t, byAccount[0].Date.Equal(day(1)))
	assert.True(t, byAccount[2].Date.Equal(day(9)))

	inRange, err := env.svc.Transactions.ListByDateRange(ctx, "HH1", day(3), day(9))
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.True(t, inRange[0].Date.Equal(day(3)))
	assert.True(t, inRange[1].Date.Equal(day(5)))
}

func TestTransactionService_ImportEntriesSkipsKnownExternalIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.account(t, hh1, "A", 0)

	entries := func() []*model.Transaction {
		return []*model.Transaction{
			{Type: model.TypeIncome, AccountID: a.ID, Amount: decimal.NewFromInt(10), Date: day(1), ExternalID: "fit-1"},
			{Type: model.TypeExpense, AccountID: a.ID, Amount: decimal.NewFromInt(4), Date: day(2), ExternalID: "fit-2"},
			{Type: model.TypeExpense, AccountID: a.ID, Amount: decimal.NewFromInt(4), Date: day(2), ExternalID: "fit-2"},
		}
	}

	var calls int
	result, err := env.svc.Transactions.ImportEntries(ctx, hh1, entries(), func() { calls++ })
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Created: 2, Skipped: 1}, result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "6", env.balance(t, a.ID))

	result, err = env.svc.Transactions.ImportEntries(ctx, hh1, entries(), nil)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Created: 0, Skipped: 3}, result)
	assert.Equal(t, "6", env.balance(t, a.ID))
}
