package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceTier is a named pricing context such as retail or wholesale.
type PriceTier struct {
	ID        uuid.UUID
	Code      string
	Name      string
	Priority  int
	IsDefault bool
}

// PriceStatus is the lifecycle state of a unit price.
type PriceStatus string

const (
	PriceActive   PriceStatus = "ACTIVE"
	PriceInactive PriceStatus = "INACTIVE"
)

// UnitPrice is an item's configured selling and cost price under a tier.
type UnitPrice struct {
	ItemID        uuid.UUID
	TierID        uuid.UUID
	SellingPrice  decimal.Decimal
	CostPrice     decimal.Decimal
	MinPrice      *decimal.Decimal
	MaxPrice      *decimal.Decimal
	EffectiveDate *time.Time
	ExpiryDate    *time.Time
	IsTaxable     bool
	TaxRate       decimal.Decimal
	Status        PriceStatus
}

// ValidAt reports whether the price is active at t.
func (p UnitPrice) ValidAt(t time.Time) bool {
	return p.Status == PriceActive && withinWindow(p.EffectiveDate, p.ExpiryDate, t)
}

// CustomerPriceOverride is a per-customer special price superseding the tier price.
type CustomerPriceOverride struct {
	CustomerID         uuid.UUID
	ItemID             uuid.UUID
	SpecialPrice       decimal.Decimal
	DiscountPercentage *decimal.Decimal
	MinQuantity        *int
	MaxQuantity        *int
	EffectiveDate      *time.Time
	ExpiryDate         *time.Time
}

// ValidAt reports whether the override is in effect at t.
func (o CustomerPriceOverride) ValidAt(t time.Time) bool {
	return withinWindow(o.EffectiveDate, o.ExpiryDate, t)
}

// Admits reports whether qty falls inside the override's quantity bounds.
func (o CustomerPriceOverride) Admits(qty int) bool {
	if o.MinQuantity != nil && qty < *o.MinQuantity {
		return false
	}
	if o.MaxQuantity != nil && qty > *o.MaxQuantity {
		return false
	}
	return true
}

func withinWindow(from, to *time.Time, t time.Time) bool {
	if from != nil && from.After(t) {
		return false
	}
	if to != nil && to.Before(t) {
		return false
	}
	return true
}

// OrderLine is one requested item.
type OrderLine struct {
	ItemID     uuid.UUID
	Quantity   int
	UOMID      uuid.UUID
	CategoryID *uuid.UUID
}

// Request is the input of a price calculation.
type Request struct {
	Lines          []OrderLine
	TierID         uuid.UUID
	CustomerID     *uuid.UUID
	DiscountCode   string
	PromotionCode  string
	AutoPromotions bool
	AsOf           *time.Time
}

// LineResult is the per-line breakdown of a calculation.
type LineResult struct {
	ItemID              uuid.UUID
	UOMID               uuid.UUID
	CategoryID          *uuid.UUID
	Quantity            int
	Source              PriceSource
	UnitPrice           decimal.Decimal
	CostPrice           decimal.Decimal
	LineTotal           decimal.Decimal
	IsTaxable           bool
	TaxRate             decimal.Decimal
	TaxAmount           decimal.Decimal
	DiscountAllocation  decimal.Decimal
	PromotionAllocation decimal.Decimal
	Margin              MarginResult
	BelowMinimumMargin  bool
}

// AppliedDiscount summarises the discount code used by a calculation.
type AppliedDiscount struct {
	Code             string
	Type             string
	Value            decimal.Decimal
	EligibleSubtotal decimal.Decimal
	Amount           decimal.Decimal
	IsCumulative     bool
}

// AppliedPromotion summarises one promotion used by a calculation.
type AppliedPromotion struct {
	Code         string
	Name         string
	Type         string
	Priority     int
	IsCumulative bool
	Automatic    bool
	Amount       decimal.Decimal
}

// MarginSummary aggregates cost and profit over the whole order.
type MarginSummary struct {
	NetRevenue       decimal.Decimal
	TotalCost        decimal.Decimal
	ProfitAmount     decimal.Decimal
	ProfitMarginPct  decimal.Decimal
	MarkupPct        decimal.Decimal
	MinimumMarginPct decimal.Decimal
	BelowMinimum     []uuid.UUID
}

// CalculationResult is the auditable outcome of a price calculation.
type CalculationResult struct {
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	PromotionAmount decimal.Decimal
	TaxAmount       decimal.Decimal
	Total           decimal.Decimal
	Lines           []LineResult
	Discount        *AppliedDiscount
	Promotions      []AppliedPromotion
	Margin          MarginSummary
	AsOf            time.Time
}
