package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hearth/internal/household"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/replication"
	"github.com/Veraticus/hearth/internal/testutil"
)

const statementOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>INR
<BANKACCTFROM>
<BANKID>HDFC0001
<ACCTID>50100012345
<ACCTTYPE>SAVINGS
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-250.00
<FITID>T1
<NAME>BIG BAZAAR
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240131120000[0:GMT]
<TRNAMT>5000.00
<FITID>T2
<NAME>SALARY ACME LTD
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>5750.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

// useTempDatabase points every command at a fresh database.
func useTempDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hearth.db")
	viper.Set("database.path", path)
	viper.Set("sync.default_url", "")
	viper.Set("sync.disabled", false)
	t.Setenv("COUCHDB_URL", "")
	t.Setenv("SYNC_DISABLED", "")
	t.Cleanup(func() {
		viper.Set("database.path", "")
	})
	return path
}

func run(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func withApp(t *testing.T, fn func(a *app)) {
	t.Helper()
	a, err := initApp(context.Background())
	require.NoError(t, err)
	defer a.Close()
	fn(a)
}

func onlyAccount(t *testing.T, householdID string) *model.Account {
	t.Helper()
	var account *model.Account
	withApp(t, func(a *app) {
		accounts, err := a.ledger.Accounts.GetAllActive(context.Background(), householdID)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		account = accounts[0]
	})
	return account
}

func TestAccountsAndTransactions(t *testing.T) {
	useTempDatabase(t)

	out := run(t, accountsCmd(), "create", "Wallet", "--type", "cash", "--currency", "inr", "--balance", "1000")
	assert.Contains(t, out, "Created account Wallet")

	account := onlyAccount(t, household.FallbackID)
	assert.Equal(t, model.AccountCash, account.Type)
	assert.Equal(t, "INR", account.Currency)

	out = run(t, transactionsCmd(), "add", "250", "--account", account.ID, "--type", "expense",
		"--description", "Tea", "--date", "2024-03-01")
	assert.Contains(t, out, "Recorded EXPENSE 250.00")

	out = run(t, accountsCmd(), "list")
	assert.Contains(t, out, "Wallet")
	assert.Contains(t, out, "INR 750.00")

	out = run(t, transactionsCmd(), "list", "--account", account.ID)
	assert.Contains(t, out, "Tea")
	assert.Contains(t, out, "2024-03-01")

	out = run(t, transactionsCmd(), "recover")
	assert.Contains(t, out, "Nothing to recover")

	out = run(t, accountsCmd(), "archive", account.ID)
	assert.Contains(t, out, "Archived Wallet")
	out = run(t, accountsCmd(), "list")
	assert.Contains(t, out, "No accounts yet")
}

func TestTransactionsAdd_UnknownAccount(t *testing.T) {
	useTempDatabase(t)

	cmd := transactionsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"add", "10", "--account", "nope"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestImportOFX(t *testing.T) {
	useTempDatabase(t)
	run(t, accountsCmd(), "create", "HDFC", "--type", "SAVINGS", "--balance", "1000")
	account := onlyAccount(t, household.FallbackID)

	file := filepath.Join(t.TempDir(), "hdfc.ofx")
	require.NoError(t, os.WriteFile(file, []byte(statementOFX), 0600))

	out := run(t, importOFXCmd(), file, "--dry-run", "--account", account.ID)
	assert.Contains(t, out, "2 transactions would be imported")

	out = run(t, importOFXCmd(), file)
	assert.Contains(t, out, "No hearth account for bank account 50100012345")

	out = run(t, importOFXCmd(), file, "--map", "50100012345="+account.ID)
	assert.Contains(t, out, "Imported 2 transactions, skipped 0")

	out = run(t, importOFXCmd(), file, "--account", account.ID)
	assert.Contains(t, out, "Imported 0 transactions, skipped 2")

	account = onlyAccount(t, household.FallbackID)
	assert.Equal(t, "5750", account.Balance.String())
}

func TestGuestLoginMerges(t *testing.T) {
	useTempDatabase(t)

	out := run(t, guestCmd(), "start")
	assert.Contains(t, out, "Guest session started: "+model.GuestPrefix)

	run(t, accountsCmd(), "create", "Pocket money", "--type", "CASH", "--balance", "200")

	out = run(t, guestCmd(), "login", "u_asha", "--name", "Asha", "--email", "asha@example.com",
		"--household", "HH1", "--choice", "merge")
	assert.Contains(t, out, "Guest data merged into HH1")

	account := onlyAccount(t, "HH1")
	assert.Equal(t, "Pocket money", account.Name)

	out = run(t, householdCmd(), "show")
	assert.Contains(t, out, "HH1")
	assert.Contains(t, out, "asha@example.com")

	out = run(t, guestCmd(), "resolve")
	assert.Contains(t, out, "No guest data waiting")

	out = run(t, guestCmd(), "logout")
	assert.Contains(t, out, "Signed out")
	withApp(t, func(a *app) {
		assert.Nil(t, a.user)
		assert.Equal(t, "HH1", a.tenant(context.Background()))
	})
}

func TestGuestLoginDiscards(t *testing.T) {
	useTempDatabase(t)

	run(t, guestCmd(), "start")
	run(t, accountsCmd(), "create", "Scratch", "--type", "CASH")

	out := run(t, guestCmd(), "login", "u_ravi", "--choice", "discard")
	assert.Contains(t, out, "Guest data discarded")

	withApp(t, func(a *app) {
		ctx := context.Background()
		assert.Equal(t, "u_ravi", a.resolver.GetHouseholdID(ctx))
		accounts, err := a.ledger.Accounts.GetAll(ctx, "u_ravi")
		require.NoError(t, err)
		assert.Empty(t, accounts)
	})
}

func TestHouseholdSet(t *testing.T) {
	useTempDatabase(t)

	out := run(t, householdCmd(), "show")
	assert.Contains(t, out, household.FallbackID)
	assert.Contains(t, out, "signed out")

	out = run(t, householdCmd(), "set", "HH9")
	assert.Contains(t, out, "Active household is now HH9")
	withApp(t, func(a *app) {
		assert.Equal(t, "HH9", a.resolver.GetHouseholdID(context.Background()))
	})
}

func TestBackupCommands(t *testing.T) {
	useTempDatabase(t)
	run(t, accountsCmd(), "create", "Wallet", "--type", "CASH", "--balance", "10")

	out := run(t, backupCmd(), "create", "before-trip")
	assert.Contains(t, out, "Backup before-trip written (1 documents)")

	out = run(t, backupCmd(), "list")
	assert.Contains(t, out, "before-trip")

	out = run(t, backupCmd(), "restore", "before-trip")
	assert.Contains(t, out, "0 inserted, 1 updated")

	out = run(t, backupCmd(), "delete", "before-trip")
	assert.Contains(t, out, "Deleted backup before-trip")

	out = run(t, backupCmd(), "list")
	assert.Contains(t, out, "No backups")
}

func TestSyncCommands_LocalOnly(t *testing.T) {
	useTempDatabase(t)

	out := run(t, syncCmd(), "status")
	assert.Contains(t, out, string(replication.StatusLocalOnly))

	out = run(t, syncCmd(), "now")
	assert.Contains(t, out, "nothing to sync with")

	out = run(t, syncCmd(), "disable")
	assert.Contains(t, out, "Auto-sync disabled")
}

func TestSyncCommands_Remote(t *testing.T) {
	useTempDatabase(t)
	couch := testutil.NewCouchDB(t)

	run(t, householdCmd(), "set", "HH1")
	run(t, accountsCmd(), "create", "Joint", "--type", "CURRENT", "--balance", "42")

	out := run(t, syncCmd(), "configure", couch.URL(), "--username", "asha", "--password", "pw")
	assert.Contains(t, out, "Sync server saved")

	out = run(t, syncCmd(), "status")
	assert.Contains(t, out, string(replication.StatusDisabled))
	assert.Contains(t, out, "(as asha)")

	out = run(t, syncCmd(), "now")
	assert.Contains(t, out, "Sync complete")

	account := onlyAccount(t, "HH1")
	_, body, ok := couch.Doc(replication.DatabaseName("HH1", model.CollectionAccounts), account.ID)
	require.True(t, ok)
	assert.Equal(t, "Joint", body["name"])
}
