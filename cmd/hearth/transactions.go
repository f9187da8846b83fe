package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hearth/internal/cli"
	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/model"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "Record and review transactions",
	}

	cmd.AddCommand(transactionsAddCmd())
	cmd.AddCommand(transactionsListCmd())
	cmd.AddCommand(transactionsDeleteCmd())
	cmd.AddCommand(transactionsRecoverCmd())

	return cmd
}

func transactionsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <amount>",
		Short: "Record a transaction",
		Long: `Record a transaction and apply it to the account balance.

INCOME credits the account. EXPENSE, INVESTMENT and DEBT debit it.
TRANSFER debits the account and credits --to when given.

Examples:
  hearth tx add 450 --account acc_1 --type EXPENSE --description Groceries
  hearth tx add 10000 --account acc_1 --type TRANSFER --to acc_2`,
		Args: cobra.ExactArgs(1),
		RunE: runTransactionsAdd,
	}

	cmd.Flags().String("account", "", "account id (required)")
	cmd.Flags().String("type", string(model.TypeExpense), "INCOME, EXPENSE, TRANSFER, INVESTMENT or DEBT")
	cmd.Flags().String("to", "", "destination account for transfers")
	cmd.Flags().String("date", "", "date as YYYY-MM-DD (default: today)")
	cmd.Flags().String("category", "", "category id")
	cmd.Flags().String("description", "", "free text description")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runTransactionsAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	accountID, _ := cmd.Flags().GetString("account")
	txType, _ := cmd.Flags().GetString("type")
	toAccountID, _ := cmd.Flags().GetString("to")
	dateStr, _ := cmd.Flags().GetString("date")
	categoryID, _ := cmd.Flags().GetString("category")
	description, _ := cmd.Flags().GetString("description")

	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	date, err := parseDate(dateStr, time.Now())
	if err != nil {
		return err
	}

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.ledger.Transactions.Create(ctx, a.scope(ctx), &model.Transaction{
		Date:        date,
		Type:        model.TransactionType(strings.ToUpper(txType)),
		AccountID:   accountID,
		ToAccountID: toAccountID,
		CategoryID:  categoryID,
		Description: description,
		Amount:      amount,
	})
	if errors.Is(err, common.ErrPartialConsistency) {
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning("Write was interrupted; run 'hearth tx recover' to finish it"))
	}
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Recorded %s %s (%s)", t.Type, t.Amount.StringFixed(2), t.ID)))
	return nil
}

func transactionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions",
		Long: `List transactions of one account, or of the household within a date range.

Examples:
  hearth tx list --account acc_1
  hearth tx list --from 2024-01-01 --to 2024-02-01`,
		RunE: runTransactionsList,
	}

	cmd.Flags().String("account", "", "only this account")
	cmd.Flags().String("from", "", "start date, inclusive (default: 30 days ago)")
	cmd.Flags().String("to", "", "end date, exclusive (default: tomorrow)")

	return cmd
}

func runTransactionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	accountID, _ := cmd.Flags().GetString("account")
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	out := cmd.OutOrStdout()

	now := time.Now()
	from, err := parseDate(fromStr, now.AddDate(0, 0, -30))
	if err != nil {
		return err
	}
	to, err := parseDate(toStr, now.AddDate(0, 0, 1))
	if err != nil {
		return err
	}

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var txns []*model.Transaction
	if accountID != "" {
		txns, err = a.ledger.Transactions.ListByAccount(ctx, accountID)
	} else {
		txns, err = a.ledger.Transactions.ListByDateRange(ctx, a.resolver.GetHouseholdID(ctx), from, to)
	}
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}

	if len(txns) == 0 {
		fmt.Fprintln(out, cli.InfoStyle.Render("No transactions found."))
		return nil
	}

	t, err := newTable(out, "Date", "Type", "Amount", "Account", "Description", "ID")
	if err != nil {
		return err
	}
	for _, txn := range txns {
		amount := txn.Amount
		if txn.Type != model.TypeIncome {
			amount = amount.Neg()
		}
		if err := t.row(txn.Date.Format("2006-01-02"), string(txn.Type),
			cli.FormatMoney(amount, ""), txn.AccountID, txn.Description, txn.ID); err != nil {
			return fmt.Errorf("failed to write transaction row: %w", err)
		}
	}
	return t.flush()
}

func transactionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <transaction-id>",
		Short: "Delete a transaction and reverse its balance effect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ledger.Transactions.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete transaction: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted "+args[0]))
			return nil
		},
	}
}

func transactionsRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Finish transaction writes that were interrupted",
		Long: `A transaction and its balance change are separate writes. If hearth stops
between them, the pending write is kept and this command completes it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			done, err := a.ledger.Transactions.Recover(ctx)
			if done > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Completed %d interrupted write(s)", done)))
			}
			if err != nil {
				return fmt.Errorf("failed to recover writes: %w", err)
			}
			if done == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing to recover"))
			}
			return nil
		},
	}
}
