package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hearth/internal/backup"
	"github.com/Veraticus/hearth/internal/cli"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and restore the local database",
		Long: `Backups are JSON files stored in a backups directory next to the database.
Restoring updates documents in place and inserts the missing ones; it never
deletes anything.`,
	}

	cmd.AddCommand(backupCreateCmd())
	cmd.AddCommand(backupListCmd())
	cmd.AddCommand(backupRestoreCmd())
	cmd.AddCommand(backupDeleteCmd())

	return cmd
}

func backupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [tag]",
		Short: "Create a backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tag := ""
			if len(args) == 1 {
				tag = args[0]
			}

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			mgr, err := backup.NewManager(a.store, a.store.Path())
			if err != nil {
				return err
			}
			info, err := mgr.Create(ctx, tag)
			if err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Backup %s written (%d documents)", info.ID, info.Total())))
			return nil
		},
	}
}

func backupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			mgr, err := backup.NewManager(a.store, a.store.Path())
			if err != nil {
				return err
			}
			infos, err := mgr.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, cli.InfoStyle.Render("No backups in "+mgr.Dir()))
				return nil
			}

			t, err := newTable(out, "Tag", "Created", "Documents", "Size")
			if err != nil {
				return err
			}
			for _, info := range infos {
				if err := t.row(info.ID, info.CreatedAt.Local().Format("2006-01-02 15:04"),
					fmt.Sprint(info.Total()), fmt.Sprintf("%.1f KB", float64(info.FileSize)/1024)); err != nil {
					return fmt.Errorf("failed to write backup row: %w", err)
				}
			}
			return t.flush()
		},
	}
}

func backupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <tag>",
		Short: "Restore a backup into the local database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			mgr, err := backup.NewManager(a.store, a.store.Path())
			if err != nil {
				return err
			}
			info, err := mgr.Info(ctx, args[0])
			if err != nil {
				return err
			}

			bar, progress := newProgress(info.Total(), "Restoring")
			result, err := mgr.Restore(ctx, args[0], progress)
			_ = bar.Finish()

			msg := fmt.Sprintf("Restored %s: %d inserted, %d updated", args[0], result.Inserted, result.Updated)
			if result.Failed > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(fmt.Sprintf("%s, %d failed", msg, result.Failed)))
			}
			if err != nil {
				return fmt.Errorf("failed to restore backup: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(msg))
			return nil
		},
	}
}

func backupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tag>",
		Short: "Delete a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			mgr, err := backup.NewManager(a.store, a.store.Path())
			if err != nil {
				return err
			}
			if err := mgr.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted backup "+args[0]))
			return nil
		},
	}
}
