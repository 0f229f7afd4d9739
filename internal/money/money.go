package money

import "github.com/shopspring/decimal"

const (
	// Scale is the number of fractional digits used for presented amounts.
	Scale int32 = 2
	// DivisionScale is the intermediate precision used for divisions.
	DivisionScale int32 = 4
)

var (
	// Zero is the additive identity.
	Zero = decimal.Zero
	// Hundred is used for percentage conversions.
	Hundred = decimal.NewFromInt(100)
	// Cent is the smallest presented amount.
	Cent = decimal.New(1, -Scale)
)

// Round rounds half away from zero to two decimals.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Div divides a by b keeping four decimals of precision. Division by zero yields zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return Zero
	}
	return a.DivRound(b, DivisionScale)
}

// Percent returns pct percent of amount, rounded to two decimals.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(Hundred))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Clamp bounds d to the closed interval [lo, hi].
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	return Max(lo, Min(d, hi))
}

// Sum adds the provided values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
