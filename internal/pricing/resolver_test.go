package pricing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveTierPrice(t *testing.T) {
	s := exampleStore()
	got, err := Resolver{Prices: s}.Resolve(context.Background(), ResolveInput{ItemID: itemA, TierID: tierRetail, Quantity: 1, AsOf: fixedNow})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Source != SourceTier || !got.SellingPrice.Equal(dec("50")) || !got.IsTaxable {
		t.Fatalf("unexpected price %+v", got)
	}
}

func TestResolveOverrideBeatsTier(t *testing.T) {
	s := exampleStore()
	s.overrides[priceKey{customer, itemA}] = CustomerPriceOverride{
		CustomerID: customer, ItemID: itemA, SpecialPrice: dec("50.00"), DiscountPercentage: decPtr("10"),
	}
	got, err := Resolver{Prices: s}.Resolve(context.Background(), ResolveInput{ItemID: itemA, TierID: tierRetail, CustomerID: &customer, Quantity: 1, AsOf: fixedNow})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Source != SourceCustomerOverride {
		t.Fatalf("expected override source, got %s", got.Source)
	}
	if !got.SellingPrice.Equal(dec("45.00")) {
		t.Fatalf("expected 45.00, got %s", got.SellingPrice)
	}
	if !got.IsTaxable || !got.TaxRate.Equal(dec("16")) || !got.CostPrice.Equal(dec("40")) {
		t.Fatalf("expected tax and cost inherited from tier, got %+v", got)
	}
}

func TestResolveOverrideWithoutTierPrice(t *testing.T) {
	s := newStubStore()
	s.overrides[priceKey{customer, itemC}] = CustomerPriceOverride{CustomerID: customer, ItemID: itemC, SpecialPrice: dec("9.99")}
	got, err := Resolver{Prices: s}.Resolve(context.Background(), ResolveInput{ItemID: itemC, TierID: tierRetail, CustomerID: &customer, Quantity: 1, AsOf: fixedNow})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.IsTaxable || !got.CostPrice.IsZero() || !got.SellingPrice.Equal(dec("9.99")) {
		t.Fatalf("unexpected price %+v", got)
	}
}

func TestResolveOverrideOutsideQuantityOrWindow(t *testing.T) {
	s := exampleStore()
	minQty := 5
	expired := fixedNow.Add(-time.Minute)
	s.overrides[priceKey{customer, itemA}] = CustomerPriceOverride{CustomerID: customer, ItemID: itemA, SpecialPrice: dec("1"), MinQuantity: &minQty}
	s.overrides[priceKey{customer, itemB}] = CustomerPriceOverride{CustomerID: customer, ItemID: itemB, SpecialPrice: dec("1"), ExpiryDate: &expired}

	r := Resolver{Prices: s}
	for _, item := range []struct {
		id   ResolveInput
		want string
	}{
		{ResolveInput{ItemID: itemA, TierID: tierRetail, CustomerID: &customer, Quantity: 2, AsOf: fixedNow}, "50"},
		{ResolveInput{ItemID: itemB, TierID: tierRetail, CustomerID: &customer, Quantity: 1, AsOf: fixedNow}, "30"},
	} {
		got, err := r.Resolve(context.Background(), item.id)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.Source != SourceTier || !got.SellingPrice.Equal(dec(item.want)) {
			t.Fatalf("expected tier price %s, got %+v", item.want, got)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	s := exampleStore()
	expiry := fixedNow.Add(-time.Hour)
	p := s.prices[priceKey{itemB, tierRetail}]
	p.ExpiryDate = &expiry
	s.prices[priceKey{itemB, tierRetail}] = p

	r := Resolver{Prices: s}
	for _, id := range []ResolveInput{
		{ItemID: itemC, TierID: tierRetail, Quantity: 1, AsOf: fixedNow},
		{ItemID: itemB, TierID: tierRetail, Quantity: 1, AsOf: fixedNow},
	} {
		_, err := r.Resolve(context.Background(), id)
		var notFound *PriceNotFoundError
		if !errors.As(err, &notFound) || notFound.ItemID != id.ItemID {
			t.Fatalf("expected PriceNotFoundError for %s, got %v", id.ItemID, err)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound kind, got %v", err)
		}
	}
}

func TestResolveRejectsInvalidTierPrice(t *testing.T) {
	cases := map[string]UnitPrice{
		"zero selling":  {SellingPrice: dec("0"), CostPrice: dec("1"), Status: PriceActive},
		"negative cost": {SellingPrice: dec("10"), CostPrice: dec("-1"), Status: PriceActive},
		"below minimum": {SellingPrice: dec("10"), CostPrice: dec("1"), MinPrice: decPtr("12"), Status: PriceActive},
		"above maximum": {SellingPrice: dec("10"), CostPrice: dec("1"), MaxPrice: decPtr("8"), Status: PriceActive},
	}
	for name, price := range cases {
		s := newStubStore()
		price.ItemID, price.TierID = itemA, tierRetail
		s.prices[priceKey{itemA, tierRetail}] = price
		_, err := Resolver{Prices: s}.Resolve(context.Background(), ResolveInput{ItemID: itemA, TierID: tierRetail, Quantity: 1, AsOf: fixedNow})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}
