package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for every amount.
const MoneyScale = 2

// MoneyUnit is the smallest representable amount, 0.01.
var MoneyUnit = decimal.New(1, -MoneyScale)

// RoundMoney rounds d to MoneyScale digits. Every amount entering the domain
// goes through it so comparisons never see sub-cent noise.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// ParseMoney parses a decimal string such as "101000" or "99.95".
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q: %v", ErrInvalidInput, s, err)
	}
	return RoundMoney(d), nil
}

// FormatMoney renders d with exactly MoneyScale fractional digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}
