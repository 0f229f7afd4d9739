package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/promotion"
)

type priceKey struct{ a, b uuid.UUID }

type stubStore struct {
	prices     map[priceKey]UnitPrice
	overrides  map[priceKey]CustomerPriceOverride
	discounts  map[string]discount.Rule
	promotions map[string]promotion.Rule
	usage      map[string]int64
	reads      int
	increments int
}

func newStubStore() *stubStore {
	return &stubStore{
		prices:     map[priceKey]UnitPrice{},
		overrides:  map[priceKey]CustomerPriceOverride{},
		discounts:  map[string]discount.Rule{},
		promotions: map[string]promotion.Rule{},
		usage:      map[string]int64{},
	}
}

func (s *stubStore) FindActiveUnitPrice(_ context.Context, itemID, tierID uuid.UUID, _ time.Time) (UnitPrice, error) {
	s.reads++
	p, ok := s.prices[priceKey{itemID, tierID}]
	if !ok {
		return UnitPrice{}, fmt.Errorf("unit price: %w", ErrNotFound)
	}
	return p, nil
}

func (s *stubStore) FindActiveCustomerOverride(_ context.Context, customerID, itemID uuid.UUID, _ int, _ time.Time) (CustomerPriceOverride, error) {
	s.reads++
	o, ok := s.overrides[priceKey{customerID, itemID}]
	if !ok {
		return CustomerPriceOverride{}, fmt.Errorf("override: %w", ErrNotFound)
	}
	return o, nil
}

func (s *stubStore) FindDiscountByCode(_ context.Context, code string) (discount.Rule, error) {
	d, ok := s.discounts[code]
	if !ok {
		return discount.Rule{}, fmt.Errorf("discount: %w", ErrNotFound)
	}
	return d, nil
}

func (s *stubStore) CountDiscountUsageByCustomer(_ context.Context, code string, customerID uuid.UUID) (int64, error) {
	return s.usage["d:"+code+":"+customerID.String()], nil
}

func (s *stubStore) FindPromotionByCode(_ context.Context, code string) (promotion.Rule, error) {
	p, ok := s.promotions[code]
	if !ok {
		return promotion.Rule{}, fmt.Errorf("promotion: %w", ErrNotFound)
	}
	return p, nil
}

func (s *stubStore) ListActivePromotions(_ context.Context, asOf time.Time) ([]promotion.Rule, error) {
	var out []promotion.Rule
	for _, p := range s.promotions {
		if p.Active(asOf) == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStore) CountPromotionUsageByCustomer(_ context.Context, code string, customerID uuid.UUID) (int64, error) {
	return s.usage["p:"+code+":"+customerID.String()], nil
}

func (s *stubStore) IncrementDiscountUsage(context.Context, string, uuid.UUID, *uuid.UUID) error {
	s.increments++
	return nil
}

func (s *stubStore) IncrementPromotionUsage(context.Context, string, uuid.UUID, *uuid.UUID) error {
	s.increments++
	return nil
}

var (
	tierRetail = uuid.MustParse("10000000-0000-0000-0000-000000000001")
	itemA      = uuid.MustParse("a0000000-0000-0000-0000-00000000000a")
	itemB      = uuid.MustParse("b0000000-0000-0000-0000-00000000000b")
	itemC      = uuid.MustParse("c0000000-0000-0000-0000-00000000000c")
	customer   = uuid.MustParse("c5000000-0000-0000-0000-000000000001")
	fixedNow   = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

// exampleStore holds item A (50.00, taxable 16%) and item B (30.00, non-taxable).
func exampleStore() *stubStore {
	s := newStubStore()
	s.prices[priceKey{itemA, tierRetail}] = UnitPrice{
		ItemID: itemA, TierID: tierRetail, SellingPrice: dec("50.00"), CostPrice: dec("40.00"),
		IsTaxable: true, TaxRate: dec("16"), Status: PriceActive,
	}
	s.prices[priceKey{itemB, tierRetail}] = UnitPrice{
		ItemID: itemB, TierID: tierRetail, SellingPrice: dec("30.00"), CostPrice: dec("29.00"),
		TaxRate: dec("0"), Status: PriceActive,
	}
	s.discounts["SAVE10"] = discount.Rule{Code: "SAVE10", Type: discount.TypePercentage, Value: dec("10"), Status: discount.StatusActive}
	return s
}

func newTestCalculator(s *stubStore, opts ...func(*CalculatorConfig)) *Calculator {
	cfg := CalculatorConfig{
		Prices:     s,
		Discounts:  s,
		Promotions: s,
		Now:        func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	calc, err := NewCalculator(cfg)
	if err != nil {
		panic(err)
	}
	return calc
}

func exampleRequest() Request {
	return Request{
		TierID: tierRetail,
		Lines: []OrderLine{
			{ItemID: itemA, Quantity: 2},
			{ItemID: itemB, Quantity: 1},
		},
	}
}

func expiredPromotion(code string) promotion.Rule {
	ended := fixedNow.Add(-24 * time.Hour)
	return promotion.Rule{Code: code, Type: promotion.TypePercentage, Status: promotion.StatusActive, DiscountPercentage: decPtr("5"), EndDate: &ended}
}
