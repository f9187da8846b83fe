package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/Veraticus/hearth/internal/service"
)

// indexColumn maps an indexed document field to its column and the JSONPath
// used to pull the value out of a document body.
type indexColumn struct {
	field  string
	column string
	path   string
}

var indexColumns = []indexColumn{
	{field: service.FieldHousehold, column: "household_id", path: "$.householdId"},
	{field: service.FieldDate, column: "doc_date", path: "$.date"},
	{field: service.FieldAccount, column: "account_id", path: "$.accountId"},
	{field: service.FieldCategory, column: "category_id", path: "$.categoryId"},
	{field: service.FieldNextDueDate, column: "next_due_date", path: "$.nextDueDate"},
	{field: service.FieldStatus, column: "status", path: "$.status"},
	{field: service.FieldBudgetMode, column: "budget_mode", path: "$.budgetMode"},
}

func columnFor(field string) (string, error) {
	for _, ic := range indexColumns {
		if ic.field == field {
			return ic.column, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownField, field)
}

// reservedKeys never take part in the stored body; revision data lives in
// its own columns.
var reservedKeys = []string{"_rev", "_id", "_revisions", "_deleted", "_conflicts"}

// canonicalize strips reserved keys and re-encodes the body with sorted keys
// so equal content always hashes to the same revision.
func canonicalize(body []byte) ([]byte, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if fields == nil {
		return nil, nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidDocument)
	}
	for _, k := range reservedKeys {
		delete(fields, k)
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return out, fields, nil
}

// indexValues extracts the indexed columns, in indexColumns order.
func indexValues(fields map[string]any) []any {
	values := make([]any, len(indexColumns))
	for i, ic := range indexColumns {
		v, err := jsonpath.Get(ic.path, fields)
		if err != nil {
			continue
		}
		switch tv := v.(type) {
		case string:
			if tv != "" {
				values[i] = tv
			}
		case json.Number:
			values[i] = tv.String()
		case bool:
			values[i] = strconv.FormatBool(tv)
		}
	}
	return values
}

// newRev builds the revision token "<generation>-<content hash>".
func newRev(generation int, body []byte) string {
	sum := sha256.Sum256(append([]byte(strconv.Itoa(generation)+":"), body...))
	return fmt.Sprintf("%d-%s", generation, hex.EncodeToString(sum[:16]))
}

// RevGeneration returns the numeric prefix of a revision token, or 0.
func RevGeneration(rev string) int {
	prefix, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return n
}

// revWins decides which of two conflicting revisions becomes current.
// Live beats deleted, then the longer history, then the larger token.
func revWins(a string, aDeleted bool, b string, bDeleted bool) bool {
	if aDeleted != bDeleted {
		return !aDeleted
	}
	ga, gb := RevGeneration(a), RevGeneration(b)
	if ga != gb {
		return ga > gb
	}
	return a > b
}

// withRev returns body with "_rev" set, so decoded entities carry it.
func withRev(body []byte, rev string) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 2 || trimmed[0] != '{' {
		return json.RawMessage(body)
	}
	var b bytes.Buffer
	b.Grow(len(trimmed) + len(rev) + 12)
	b.WriteString(`{"_rev":`)
	b.WriteString(strconv.Quote(rev))
	rest := bytes.TrimSpace(trimmed[1:])
	if len(rest) > 0 && rest[0] != '}' {
		b.WriteByte(',')
	}
	b.Write(rest)
	return json.RawMessage(b.Bytes())
}
