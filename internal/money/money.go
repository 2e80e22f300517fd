// Package money holds the currency arithmetic shared by accrual and the read side.
// Amounts are integer minor units; rates are decimals in [0, 1].
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yeoskin/backend/internal/models"
)

var one = decimal.NewFromInt(1)

// ApplyRate returns grossCents × rate rounded half-up to the minor unit.
func ApplyRate(grossCents int64, rate decimal.Decimal) (int64, error) {
	if grossCents < 0 {
		return 0, models.Invalid("gross amount must not be negative, got %d", grossCents)
	}
	if err := ValidateRate(rate); err != nil {
		return 0, err
	}
	// Round(0) rounds half away from zero, which is half-up for non-negative values.
	return decimal.NewFromInt(grossCents).Mul(rate).Round(0).IntPart(), nil
}

// ValidateRate rejects rates outside [0, 1].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return models.Invalid("rate must be within [0, 1], got %s", rate.String())
	}
	return nil
}

// ParseRate parses a decimal rate such as "0.15".
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, models.Invalid("rate %q: %v", s, err)
	}
	if err := ValidateRate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Ratio returns num/den with the given number of decimal places, or zero when den is zero.
func Ratio(num, den int64, places int32) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), places)
}

var symbols = map[string]string{
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
}

// FormatCents renders a minor-unit amount for labels, e.g. "€15.00" or "-€15.00".
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	v := decimal.New(cents, -2).StringFixed(2)
	if sym, ok := symbols[strings.ToUpper(currency)]; ok {
		return sign + sym + v
	}
	return fmt.Sprintf("%s%s %s", sign, v, strings.ToUpper(currency))
}
