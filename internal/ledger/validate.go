package ledger

import (
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/hearth/internal/common"
)

// DefaultCurrency is used when an account or card is created without one.
const DefaultCurrency = "INR"

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return common.Invalid("name", "is required")
	}
	return nil
}

func requirePositive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return common.Invalid(field, "must be greater than zero")
	}
	return nil
}

func requireNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return common.Invalid(field, "must not be negative")
	}
	return nil
}

// normalizeCurrency upper-cases code and checks it is an ISO 4217 currency.
func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	if money.GetCurrency(code) == nil {
		return "", common.Invalid("currency", "is not a known currency code")
	}
	return code, nil
}

// normalizeDate drops sub-second precision and the zone so indexed dates
// compare correctly as strings.
func normalizeDate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func dateKey(t time.Time) string {
	return normalizeDate(t).Format(time.RFC3339)
}
