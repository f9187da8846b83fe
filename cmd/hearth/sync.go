package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hearth/internal/cli"
	"github.com/Veraticus/hearth/internal/config"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/replication"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replicate with the remote document server",
		Long: `Replicate the household's collections with a CouchDB-compatible server.

The server comes from 'hearth sync configure' or, failing that, from
sync.default_url in the config file (HEARTH_SYNC_DEFAULT_URL or COUCHDB_URL).
Set sync.disabled to switch sync off regardless.`,
	}

	cmd.PersistentFlags().String("viewing", "", "also pull the shared summary of this household")

	cmd.AddCommand(syncStatusCmd())
	cmd.AddCommand(syncConfigureCmd())
	cmd.AddCommand(syncNowCmd())
	cmd.AddCommand(syncEnableCmd())
	cmd.AddCommand(syncDisableCmd())
	cmd.AddCommand(syncWatchCmd())

	return cmd
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stored, err := replication.LoadStoredConfig(ctx, a.settings)
			if err != nil {
				return fmt.Errorf("failed to load sync config: %w", err)
			}
			env, _ := config.LoadSync()
			res, err := replication.ResolveConfig(stored, env)
			if err != nil {
				return err
			}

			var lines string
			switch {
			case res.Blocked:
				lines = cli.StatusBadge(string(replication.StatusBlocked), "sync is switched off")
			case res.Endpoint == nil:
				lines = cli.StatusBadge(string(replication.StatusLocalOnly), "no server configured")
			default:
				status := replication.StatusDisabled
				if a.sync.AutoSyncEnabled(ctx) {
					status = replication.StatusPaused
				}
				lines = cli.StatusBadge(string(status), "")
				lines += "\nServer:    " + res.Endpoint.URL.Redacted()
				if res.Endpoint.HasBasicAuth() {
					lines += " (as " + res.Endpoint.Username + ")"
				}
			}
			lines += "\nHousehold: " + a.tenant(ctx)
			lines += fmt.Sprintf("\nAuto-sync: %t", a.sync.AutoSyncEnabled(ctx))

			fmt.Fprintln(out, cli.RenderBox("⇅ Sync", lines))
			return nil
		},
	}
}

func syncConfigureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure <url>",
		Short: "Save a custom sync server for this device",
		Long: `Save a custom sync server. It takes precedence over sync.default_url.

Examples:
  hearth sync configure https://couch.example.com --username asha --password s3cret
  hearth sync configure http://localhost:5984 --force-enable`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			force, _ := cmd.Flags().GetBool("force-enable")
			disabled, _ := cmd.Flags().GetBool("disable")

			cfg := replication.StoredConfig{
				URL:         args[0],
				Username:    username,
				Password:    password,
				Enabled:     !disabled,
				ForceEnable: force,
			}
			if _, err := replication.ResolveConfig(&cfg, replication.Env{}); err != nil {
				return err
			}

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := replication.SaveStoredConfig(ctx, a.settings, cfg); err != nil {
				return fmt.Errorf("failed to save sync config: %w", err)
			}
			if disabled {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Custom sync server disabled"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Sync server saved"))
			return nil
		},
	}

	cmd.Flags().String("username", "", "basic auth user")
	cmd.Flags().String("password", "", "basic auth password")
	cmd.Flags().Bool("force-enable", false, "sync even when sync.disabled is set")
	cmd.Flags().Bool("disable", false, "save the server but leave it disabled")

	return cmd
}

func syncNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Run one sync pass and wait for it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			viewing, _ := cmd.Flags().GetString("viewing")

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sync.Initialize(ctx, tokens(), a.tenant(ctx), viewing); err != nil {
				return syncFailure(cmd, a, err)
			}
			// One pass only: live sessions opened by auto-sync are not kept.
			if a.sync.SessionCount() > 0 {
				a.sync.Stop()
			}

			err = a.sync.TriggerManualSync(ctx)
			if errors.Is(err, replication.ErrBlocked) || errors.Is(err, replication.ErrNoEndpoint) {
				status, _ := a.sync.Status()
				fmt.Fprintln(cmd.OutOrStdout(), cli.StatusBadge(string(status), "nothing to sync with"))
				return nil
			}
			if err != nil {
				return syncFailure(cmd, a, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Sync complete"))
			return nil
		},
	}
}

func syncEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Turn on continuous sync",
		Long: `Turn on continuous sync. The server is contacted once to make sure the
sessions can open; if none can, the setting is left off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			viewing, _ := cmd.Flags().GetString("viewing")

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sync.Initialize(ctx, tokens(), a.tenant(ctx), viewing); err != nil {
				return syncFailure(cmd, a, err)
			}
			if err := a.sync.SetAutoSync(ctx, true); err != nil {
				return syncFailure(cmd, a, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Auto-sync enabled (%d collections)", a.sync.SessionCount())))
			return nil
		},
	}
}

func syncDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Turn off continuous sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sync.SetAutoSync(ctx, false); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Auto-sync disabled"))
			return nil
		},
	}
}

func syncWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			viewing, _ := cmd.Flags().GetString("viewing")
			out := cmd.OutOrStdout()

			handler := cli.NewInterruptHandler(out, "Sync", "hearth sync watch")
			ctx := handler.HandleInterrupts(cmd.Context())

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			unsubscribe := a.bus.On(events.TopicSyncStatus, func() {
				status, reason := a.sync.Status()
				fmt.Fprintln(out, cli.StatusBadge(string(status), reason))
			})
			defer unsubscribe()

			if err := a.sync.Initialize(ctx, tokens(), a.tenant(ctx), viewing); err != nil {
				return syncFailure(cmd, a, err)
			}
			if a.sync.SessionCount() == 0 {
				status, reason := a.sync.Status()
				fmt.Fprintln(out, cli.StatusBadge(string(status), reason))
				return errors.New("auto-sync is not running; enable it with 'hearth sync enable'")
			}

			<-ctx.Done()
			return nil
		},
	}
}

// syncFailure prints the engine status next to err.
func syncFailure(cmd *cobra.Command, a *app, err error) error {
	status, reason := a.sync.Status()
	fmt.Fprintln(cmd.ErrOrStderr(), cli.StatusBadge(string(status), reason))
	return err
}
