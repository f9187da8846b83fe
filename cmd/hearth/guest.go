package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hearth/internal/cli"
	"github.com/Veraticus/hearth/internal/guest"
	"github.com/Veraticus/hearth/internal/household"
	"github.com/Veraticus/hearth/internal/model"
)

func guestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Use hearth without an account and keep the data when signing in",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start a guest session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.user != nil {
				return fmt.Errorf("signed in as %s; sign out first with 'hearth guest logout'", a.user.Email)
			}
			id, err := a.guests.StartGuest(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Guest session started: "+id))
			return nil
		},
	})
	cmd.AddCommand(guestLoginCmd())
	cmd.AddCommand(guestResolveCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := household.ClearProfile(ctx, a.settings); err != nil {
				return fmt.Errorf("failed to sign out: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Signed out"))
			return nil
		},
	})

	return cmd
}

func guestLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign in and decide what happens to guest data",
		Long: `Sign in as a user. If a guest session was active, its data can be merged
into the user's household or discarded.

Examples:
  hearth guest login u_123 --email asha@example.com --name Asha --household HH1
  hearth guest login u_123 --choice merge`,
		Args: cobra.ExactArgs(1),
		RunE: runGuestLogin,
	}

	cmd.Flags().String("email", "", "user email")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("household", "", "household the user belongs to (default: the user id)")
	cmd.Flags().String("choice", "", "merge or discard guest data without asking")

	return cmd
}

func runGuestLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")
	householdID, _ := cmd.Flags().GetString("household")
	choice, _ := cmd.Flags().GetString("choice")

	user := &model.User{ID: args[0], Email: email, Name: name, HouseholdID: householdID}
	if user.IsGuest() {
		return fmt.Errorf("%q is a guest id", user.ID)
	}

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := household.SaveProfile(ctx, a.settings, user); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	a.user = user

	state, err := a.guests.OnAuthChange(ctx, user)
	if err != nil {
		return err
	}
	if state != guest.StatePending {
		if err := a.resolver.SetHouseholdID(ctx, user.TenantID()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Signed in to household "+user.TenantID()))
		return nil
	}

	return resolveGuest(cmd, a, choice)
}

func guestResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Merge or discard data left by an earlier guest session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			choice, _ := cmd.Flags().GetString("choice")

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.user == nil {
				return errors.New("not signed in; use 'hearth guest login' first")
			}
			state, err := a.guests.OnAuthChange(ctx, a.user)
			if err != nil {
				return err
			}
			if state != guest.StatePending {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No guest data waiting"))
				return nil
			}
			return resolveGuest(cmd, a, choice)
		},
	}

	cmd.Flags().String("choice", "", "merge or discard guest data without asking")

	return cmd
}

// resolveGuest asks for, or takes from the flag, the fate of the pending
// guest data and applies it.
func resolveGuest(cmd *cobra.Command, a *app, choice string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if choice == "" {
		fmt.Fprintln(out, cli.FormatInfo("Found data from guest session "+a.guests.PreviousGuestID()))
		answer, err := cli.NewNonBlockingReader(os.Stdin).Choose(ctx, out, "Merge it into your household or discard it?", "merge", "discard")
		if err != nil {
			return err
		}
		choice = answer
	}

	c, err := guest.ParseChoice(choice)
	if err != nil {
		return err
	}

	if err := a.guests.Resolve(ctx, c); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatError("Guest data could not be fully moved; it will be retried at the next sign in"))
		return err
	}
	if c == guest.Merge {
		fmt.Fprintln(out, cli.FormatSuccess("Guest data merged into "+a.user.TenantID()))
	} else {
		fmt.Fprintln(out, cli.FormatSuccess("Guest data discarded"))
	}
	return nil
}
