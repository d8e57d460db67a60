package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places in a major unit.
// Every supported currency (GBP, EUR, USD) uses two.
const MinorUnitExponent = 2

// FromMinorUnits converts signed minor units (pence, cents) to a major-unit decimal.
// -184 → -1.84
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExponent)
}

// ToMinorUnits converts a major-unit decimal to minor units, rounding half away from zero.
// 1.845 → 185
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(MinorUnitExponent).Shift(MinorUnitExponent).IntPart()
}

// Parse parses a major-unit amount string ("12.50", "-3", "£4.20").
func Parse(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	for _, sym := range []string{"£", "€", "$"} {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Symbol returns the display symbol for an ISO currency code, or the code itself.
func Symbol(currency string) string {
	switch strings.ToUpper(currency) {
	case "GBP":
		return "£"
	case "EUR":
		return "€"
	case "USD":
		return "$"
	default:
		return strings.ToUpper(currency) + " "
	}
}

// Format renders an amount with its currency symbol and two decimals: "£1.84".
// Negative amounts are rendered with a leading minus: "-£1.84".
func Format(amount decimal.Decimal, currency string) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Abs()
	}
	return sign + Symbol(currency) + amount.StringFixed(MinorUnitExponent)
}
