package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/money"
)

// MarginResult describes profitability of a selling price against its cost.
type MarginResult struct {
	SellingPrice    decimal.Decimal
	CostPrice       decimal.Decimal
	ProfitAmount    decimal.Decimal
	ProfitMarginPct decimal.Decimal
	MarkupPct       decimal.Decimal
	BreakEvenPrice  decimal.Decimal
}

// CalculateMargin derives profit figures from selling and cost price. The margin
// percentage is relative to cost and the markup percentage relative to the selling price.
func CalculateMargin(selling, cost decimal.Decimal) MarginResult {
	profit := selling.Sub(cost)
	return MarginResult{
		SellingPrice:    money.Round(selling),
		CostPrice:       money.Round(cost),
		ProfitAmount:    money.Round(profit),
		ProfitMarginPct: percentOf(profit, cost),
		MarkupPct:       percentOf(profit, selling),
		BreakEvenPrice:  money.Round(cost),
	}
}

// TargetPrice returns the selling price that yields targetMarginPct over cost.
func TargetPrice(cost, targetMarginPct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(money.Div(targetMarginPct, money.Hundred))
	return money.Round(cost.Mul(factor))
}

// CostFromMargin returns the cost implied by a selling price and margin percentage.
func CostFromMargin(selling, marginPct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(money.Div(marginPct, money.Hundred))
	return money.Round(money.Div(selling, factor))
}

// MeetsMinimumMargin reports whether the margin over cost is at least minPct.
func MeetsMinimumMargin(selling, cost, minPct decimal.Decimal) bool {
	return CalculateMargin(selling, cost).ProfitMarginPct.GreaterThanOrEqual(minPct)
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return money.Zero
	}
	return money.Round(money.Div(part, whole).Mul(money.Hundred))
}
