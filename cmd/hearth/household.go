package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Veraticus/hearth/internal/cli"
	"github.com/Veraticus/hearth/internal/household"
)

func householdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "household",
		Short: "Show or switch the active household",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active household and signed-in user",
		RunE:  runHouseholdShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <household-id>",
		Short: "Switch the active household",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.resolver.SetHouseholdID(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to set household: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Active household is now "+args[0]))
			return nil
		},
	})

	return cmd
}

func runHouseholdShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	householdID := a.resolver.GetHouseholdID(ctx)
	lines := fmt.Sprintf("Household: %s", householdID)
	if householdID == household.FallbackID {
		lines += cli.SubtleStyle.Render(" (not set)")
	}

	if a.user == nil {
		lines += "\nUser:      " + cli.SubtleStyle.Render("signed out")
	} else {
		color, err := household.UserColor(ctx, a.settings, a.user.ID)
		if err != nil {
			return fmt.Errorf("failed to load user color: %w", err)
		}
		name := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(a.user.Name)
		lines += fmt.Sprintf("\nUser:      %s <%s>", name, a.user.Email)
	}

	total, err := a.ledger.Accounts.TotalBalance(ctx, householdID)
	if err != nil {
		return fmt.Errorf("failed to total balances: %w", err)
	}
	lines += "\nBalance:   " + cli.FormatMoney(total, "")

	fmt.Fprintln(out, cli.RenderBox("🔥 Household", lines))
	return nil
}
