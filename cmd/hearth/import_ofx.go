package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hearth/internal/cli"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/ofx"
)

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx [files...]",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import transactions from OFX or QFX files exported from your bank.

Each statement in a file belongs to a bank account number. Map it to a hearth
account with --map, or send everything to one account with --account.
Entries already imported (same bank transaction id) are skipped.

Examples:
  # Import a single file into one account
  hearth import-ofx ~/Downloads/hdfc_jan.ofx --account acc_1

  # Import several files, mapping bank accounts to hearth accounts
  hearth import-ofx ~/Downloads/*.qfx --map 50100012345=acc_1 --map 4111=acc_card`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().String("account", "", "hearth account for statements without a --map entry")
	cmd.Flags().StringToString("map", nil, "bank account number=hearth account id")
	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fallback, _ := cmd.Flags().GetString("account")
	mapping, _ := cmd.Flags().GetStringToString("map")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	out := cmd.OutOrStdout()

	files, err := expandFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to import")
	}

	slog.Info("Importing OFX files", "file_count", len(files), "dry_run", dryRun)

	entries, unmapped := collectEntries(ctx, files, mapping, fallback)
	for _, acct := range unmapped {
		fmt.Fprintln(out, cli.FormatWarning("No hearth account for bank account "+acct+"; use --map or --account"))
	}
	if len(entries) == 0 {
		slog.Warn("No transactions to import")
		return nil
	}

	if dryRun {
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Dry run: %d transactions would be imported", len(entries))))
		return nil
	}

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	bar, progress := newProgress(len(entries), "Importing")
	result, err := a.ledger.Transactions.ImportEntries(ctx, a.scope(ctx), entries, progress)
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("import stopped after %d transactions: %w", result.Created, err)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d transactions, skipped %d already present", result.Created, result.Skipped)))
	return nil
}

// collectEntries parses every file and assigns statement entries to hearth
// accounts. It returns the entries and the bank accounts that had no
// destination.
func collectEntries(ctx context.Context, files []string, mapping map[string]string, fallback string) ([]*model.Transaction, []string) {
	parser := ofx.NewParser()
	var (
		entries  []*model.Transaction
		unmapped []string
	)
	seen := make(map[string]bool)

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			slog.Error("Failed to open file", "file", path, "error", err)
			continue
		}
		statements, err := parser.ParseFile(ctx, f)
		_ = f.Close()
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", path, "error", err)
			continue
		}

		for _, st := range statements {
			target := mapping[st.AccountID]
			if target == "" {
				target = fallback
			}
			if target == "" {
				if !seen[st.AccountID] {
					seen[st.AccountID] = true
					unmapped = append(unmapped, st.AccountID)
				}
				continue
			}
			entries = append(entries, st.ForAccount(target)...)
		}
		slog.Info("Processed file", "file", filepath.Base(path), "statements", len(statements))
	}
	return entries, unmapped
}
