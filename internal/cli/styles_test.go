package cli

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMoneyAndBadge(t *testing.T) {
	assert.Contains(t, FormatMoney(decimalFromString(t, "1234.5"), "INR"), "INR 1234.50")
	assert.Contains(t, FormatMoney(decimalFromString(t, "-3"), ""), "-3.00")
	assert.Contains(t, StatusBadge("ERROR", "no network"), "ERROR")
	assert.Contains(t, StatusBadge("ERROR", "no network"), "no network")
	assert.Equal(t, ErrorColor, StatusColor("BLOCKED"))
	assert.Equal(t, SubtleColor, StatusColor("LOCAL_ONLY"))
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
