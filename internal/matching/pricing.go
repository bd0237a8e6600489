package matching

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TaxPolicy assigns VAT rates by product category. The default mirrors
// Nigerian VAT at 7.5% with basic foods and medicines exempt.
type TaxPolicy struct {
	DefaultRate      decimal.Decimal
	CategoryRates    map[string]decimal.Decimal
	ExemptCategories map[string]bool
}

// DefaultTaxPolicy returns the standard VAT policy.
func DefaultTaxPolicy() TaxPolicy {
	return TaxPolicy{
		DefaultRate: decimal.NewFromFloat(0.075),
		ExemptCategories: map[string]bool{
			"basic_foods": true,
			"medicines":   true,
		},
	}
}

// RateFor returns the tax rate applicable to a category.
func (t TaxPolicy) RateFor(category string) decimal.Decimal {
	category = strings.ToLower(strings.TrimSpace(category))
	if t.ExemptCategories[category] {
		return decimal.Zero
	}
	if rate, ok := t.CategoryRates[category]; ok {
		return rate
	}
	return t.DefaultRate
}

// lineTotalMinor computes quantity x unit price in minor units, rounded
// half-up to a whole minor unit.
func lineTotalMinor(unitPriceMinor int64, quantity decimal.Decimal) int64 {
	total := decimal.NewFromInt(unitPriceMinor).Mul(quantity)
	return total.Round(0).IntPart()
}

// taxMinor computes the tax on a line total at the given rate, rounded
// half-up.
func taxMinor(lineTotal int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(lineTotal).Mul(rate).Round(0).IntPart()
}
