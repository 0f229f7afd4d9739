package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/money"
)

// PriceSource names where a resolved price came from.
type PriceSource string

const (
	SourceTier             PriceSource = "TIER"
	SourceCustomerOverride PriceSource = "CUSTOMER_OVERRIDE"
)

// ResolveInput identifies the price to resolve.
type ResolveInput struct {
	ItemID     uuid.UUID
	TierID     uuid.UUID
	CustomerID *uuid.UUID
	Quantity   int
	AsOf       time.Time
}

// ResolvedPrice is the unit price a line is charged at.
type ResolvedPrice struct {
	ItemID       uuid.UUID
	SellingPrice decimal.Decimal
	CostPrice    decimal.Decimal
	IsTaxable    bool
	TaxRate      decimal.Decimal
	Source       PriceSource
}

// Resolver picks the applicable unit price for an item. A customer override valid at
// the calculation instant beats the tier price.
type Resolver struct {
	Prices PriceStore
}

// Resolve returns the price for in or a *PriceNotFoundError.
func (r Resolver) Resolve(ctx context.Context, in ResolveInput) (ResolvedPrice, error) {
	tier, hasTier, err := r.tierPrice(ctx, in)
	if err != nil {
		return ResolvedPrice{}, err
	}

	if in.CustomerID != nil {
		override, found, err := r.override(ctx, in)
		if err != nil {
			return ResolvedPrice{}, err
		}
		if found {
			return fromOverride(in.ItemID, override, tier, hasTier)
		}
	}

	if !hasTier {
		return ResolvedPrice{}, &PriceNotFoundError{ItemID: in.ItemID, TierID: in.TierID}
	}
	if err := validateUnitPrice(tier); err != nil {
		return ResolvedPrice{}, err
	}
	return ResolvedPrice{
		ItemID:       in.ItemID,
		SellingPrice: tier.SellingPrice,
		CostPrice:    tier.CostPrice,
		IsTaxable:    tier.IsTaxable,
		TaxRate:      tier.TaxRate,
		Source:       SourceTier,
	}, nil
}

func (r Resolver) tierPrice(ctx context.Context, in ResolveInput) (UnitPrice, bool, error) {
	price, err := r.Prices.FindActiveUnitPrice(ctx, in.ItemID, in.TierID, in.AsOf)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UnitPrice{}, false, nil
		}
		return UnitPrice{}, false, err
	}
	if !price.ValidAt(in.AsOf) {
		return UnitPrice{}, false, nil
	}
	return price, true, nil
}

func (r Resolver) override(ctx context.Context, in ResolveInput) (CustomerPriceOverride, bool, error) {
	ov, err := r.Prices.FindActiveCustomerOverride(ctx, *in.CustomerID, in.ItemID, in.Quantity, in.AsOf)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CustomerPriceOverride{}, false, nil
		}
		return CustomerPriceOverride{}, false, err
	}
	if !ov.ValidAt(in.AsOf) || !ov.Admits(in.Quantity) {
		return CustomerPriceOverride{}, false, nil
	}
	return ov, true, nil
}

// fromOverride builds a synthetic price from an override. Tax treatment and cost are
// inherited from the tier price when one exists, otherwise the line is non-taxable at zero cost.
func fromOverride(itemID uuid.UUID, ov CustomerPriceOverride, tier UnitPrice, hasTier bool) (ResolvedPrice, error) {
	if !ov.SpecialPrice.IsPositive() {
		return ResolvedPrice{}, validationf("specialPrice", "override price for item %s must be positive", itemID)
	}
	unit := ov.SpecialPrice
	if ov.DiscountPercentage != nil && ov.DiscountPercentage.IsPositive() {
		pct := money.Clamp(*ov.DiscountPercentage, money.Zero, money.Hundred)
		unit = money.Round(unit.Sub(unit.Mul(pct).Div(money.Hundred)))
	}
	out := ResolvedPrice{
		ItemID:       itemID,
		SellingPrice: unit,
		CostPrice:    money.Zero,
		TaxRate:      money.Zero,
		Source:       SourceCustomerOverride,
	}
	if hasTier {
		out.CostPrice = tier.CostPrice
		out.IsTaxable = tier.IsTaxable
		out.TaxRate = tier.TaxRate
	}
	return out, nil
}

func validateUnitPrice(p UnitPrice) error {
	if !p.SellingPrice.IsPositive() {
		return validationf("sellingPrice", "selling price for item %s must be positive", p.ItemID)
	}
	if p.CostPrice.IsNegative() {
		return validationf("costPrice", "cost price for item %s must not be negative", p.ItemID)
	}
	if p.MinPrice != nil && p.SellingPrice.LessThan(*p.MinPrice) {
		return validationf("sellingPrice", "selling price for item %s is below minimum %s", p.ItemID, p.MinPrice.StringFixed(2))
	}
	if p.MaxPrice != nil && p.SellingPrice.GreaterThan(*p.MaxPrice) {
		return validationf("sellingPrice", "selling price for item %s is above maximum %s", p.ItemID, p.MaxPrice.StringFixed(2))
	}
	if p.TaxRate.IsNegative() {
		return validationf("taxRate", "tax rate for item %s must not be negative", p.ItemID)
	}
	return nil
}
