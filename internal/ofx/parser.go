// Package ofx reads OFX/QFX bank and credit card statements into ledger
// transactions.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/hearth/internal/model"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// An SGML opening tag missing its closing bracket at the end of a line.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Statement is the transaction list of one account in a statement file.
type Statement struct {
	// AccountID is the institution's account number, not a ledger id.
	AccountID string
	Currency  string
	Kind      string // "bank" or "credit_card"
	Entries   []*model.Transaction
}

// ForAccount returns the entries bound to a ledger account.
func (s Statement) ForAccount(accountID string) []*model.Transaction {
	out := make([]*model.Transaction, 0, len(s.Entries))
	for _, e := range s.Entries {
		t := *e
		t.AccountID = accountID
		out = append(out, &t)
	}
	return out
}

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

func (p *Parser) parse(reader io.Reader) (*ofxgo.Response, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}
	return resp, nil
}

// ParseFile parses an OFX/QFX file into one Statement per account.
func (p *Parser) ParseFile(_ context.Context, reader io.Reader) ([]Statement, error) {
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	var statements []Statement
	total := 0

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		s := Statement{
			AccountID: string(stmt.BankAcctFrom.AcctID),
			Currency:  stmt.CurDef.String(),
			Kind:      "bank",
		}
		if stmt.BankTranList != nil {
			s.Entries = p.convertAll(stmt.BankTranList.Transactions)
		}
		total += len(s.Entries)
		statements = append(statements, s)
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		s := Statement{
			AccountID: string(stmt.CCAcctFrom.AcctID),
			Currency:  stmt.CurDef.String(),
			Kind:      "credit_card",
		}
		if stmt.BankTranList != nil {
			s.Entries = p.convertAll(stmt.BankTranList.Transactions)
		}
		total += len(s.Entries)
		statements = append(statements, s)
	}

	slog.Info("Parsed OFX file",
		"total_transactions", total,
		"statements", len(statements))

	return statements, nil
}

func (p *Parser) convertAll(txns []ofxgo.Transaction) []*model.Transaction {
	out := make([]*model.Transaction, 0, len(txns))
	for _, ofxTx := range txns {
		tx, err := p.convertTransaction(ofxTx)
		if err != nil {
			slog.Warn("Skipping OFX transaction", "fitid", string(ofxTx.FiTID), "error", err)
			continue
		}
		out = append(out, tx)
	}
	return out
}

// convertTransaction converts an OFX transaction. OFX amounts are negative
// for debits, which become expenses; credits become income.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction) (*model.Transaction, error) {
	amount, err := decimal.NewFromString(ofxTx.TrnAmt.FloatString(4))
	if err != nil {
		return nil, fmt.Errorf("bad amount: %w", err)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("zero amount")
	}

	txType := model.TypeIncome
	if amount.IsNegative() {
		txType = model.TypeExpense
	}

	description := p.extractMerchantName(ofxTx)
	if ofxTx.CheckNum != "" && description == "" {
		description = "Check " + string(ofxTx.CheckNum)
	}

	return &model.Transaction{
		Type:        txType,
		Amount:      amount.Abs(),
		Date:        ofxTx.DtPosted.Time,
		Description: description,
		ExternalID:  string(ofxTx.FiTID),
	}, nil
}

var merchantPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
	"UPI/",
	"NEFT/",
	"IMPS/",
}

// extractMerchantName tries to get a clean merchant name from OFX data.
func (p *Parser) extractMerchantName(tx ofxgo.Transaction) string {
	// PAYEE is usually the cleanest.
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	for _, prefix := range merchantPrefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Leading "MM/DD " dates.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}

// GetAccounts extracts the account numbers present in the OFX file.
func (p *Parser) GetAccounts(_ context.Context, reader io.Reader) ([]string, error) {
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var accounts []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			accounts = append(accounts, id)
		}
	}
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			add(string(stmt.BankAcctFrom.AcctID))
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			add(string(stmt.CCAcctFrom.AcctID))
		}
	}
	return accounts, nil
}
