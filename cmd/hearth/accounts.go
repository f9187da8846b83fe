package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/hearth/internal/cli"
	"github.com/Veraticus/hearth/internal/model"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Manage household accounts",
	}

	cmd.AddCommand(accountsCreateCmd())
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsArchiveCmd())

	return cmd
}

func accountsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an account",
		Long: `Create an account in the current household.

Examples:
  hearth accounts create "HDFC Savings" --type SAVINGS --currency INR --balance 25000
  hearth accounts create Wallet --type CASH`,
		Args: cobra.ExactArgs(1),
		RunE: runAccountsCreate,
	}

	cmd.Flags().String("type", string(model.AccountSavings), "account type (SAVINGS, CURRENT, CASH, WALLET, INVESTMENT, LOAN, OTHER)")
	cmd.Flags().String("currency", "INR", "ISO 4217 currency code")
	cmd.Flags().String("balance", "0", "opening balance")

	return cmd
}

func runAccountsCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	accountType, _ := cmd.Flags().GetString("type")
	currency, _ := cmd.Flags().GetString("currency")
	balanceStr, _ := cmd.Flags().GetString("balance")

	balance, err := parseAmount(balanceStr)
	if err != nil {
		return err
	}

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	account, err := a.ledger.Accounts.Create(ctx, a.scope(ctx), &model.Account{
		Name:     args[0],
		Type:     model.AccountType(strings.ToUpper(accountType)),
		Currency: currency,
		Balance:  balance,
	})
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created account %s (%s)", account.Name, account.ID)))
	return nil
}

func accountsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE:  runAccountsList,
	}

	cmd.Flags().Bool("all", false, "include archived accounts")

	return cmd
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	all, _ := cmd.Flags().GetBool("all")
	out := cmd.OutOrStdout()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	householdID := a.resolver.GetHouseholdID(ctx)
	var accounts []*model.Account
	if all {
		accounts, err = a.ledger.Accounts.GetAll(ctx, householdID)
	} else {
		accounts, err = a.ledger.Accounts.GetAllActive(ctx, householdID)
	}
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Fprintln(out, cli.InfoStyle.Render("No accounts yet. Use 'hearth accounts create' to add one."))
		return nil
	}

	fmt.Fprintln(out, cli.FormatTitle("Accounts"))
	t, err := newTable(out, "ID", "Name", "Type", "Balance", "Status")
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, account := range accounts {
		status := "active"
		if account.IsArchived {
			status = "archived"
		} else {
			total = total.Add(account.Balance)
		}
		if err := t.row(account.ID, account.Name, string(account.Type),
			cli.FormatMoney(account.Balance, account.Currency), status); err != nil {
			return fmt.Errorf("failed to write account row: %w", err)
		}
	}
	if err := t.flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nTotal across active accounts: %s\n", cli.FormatMoney(total, ""))
	return nil
}

func accountsArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <account-id>",
		Short: "Archive an account",
		Long: `Archive an account. Archived accounts keep their history but are hidden
from lists and totals.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.ledger.Accounts.Archive(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to archive account: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Archived "+account.Name))
			return nil
		},
	}
}
