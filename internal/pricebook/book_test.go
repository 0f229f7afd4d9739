package pricebook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/pricebook"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/promotion"
	"github.com/noah-isme/backend-pricing/internal/store"
)

var (
	retail   = uuid.MustParse("7d1c2a4e-0b6f-4c55-9a0e-3f1f6c1b2a01")
	itemA    = uuid.MustParse("0f8b1f7e-5b5a-4d8e-8c1a-6a0f5d2c9b11")
	itemB    = uuid.MustParse("0f8b1f7e-5b5a-4d8e-8c1a-6a0f5d2c9b12")
	customer = uuid.MustParse("5c2d9a50-7a1e-4b8f-b0d4-1e2f3a4b5c61")
)

func TestLoadSample(t *testing.T) {
	b, err := pricebook.Load("testdata/sample.yaml")
	require.NoError(t, err)
	require.Len(t, b.Tiers, 2)
	require.Len(t, b.Prices, 3)
	require.Len(t, b.Overrides, 1)
	require.Len(t, b.Discounts, 2)
	require.Len(t, b.Promotions, 2)

	require.Equal(t, retail, b.Prices[0].TierID)
	require.Equal(t, pricing.PriceActive, b.Prices[0].Status)
	require.True(t, b.Prices[1].SellingPrice.Equal(decimal.NewFromInt(30)))
	require.True(t, b.Prices[1].CostPrice.Equal(decimal.RequireFromString("18.5")))

	save := b.Discounts[0]
	require.Equal(t, discount.TypePercentage, save.Type)
	require.Equal(t, discount.StatusActive, save.Status)
	require.EqualValues(t, 100, *save.UsageLimit)
	require.True(t, b.Discounts[1].ItemIDs.Has(itemB))

	b2g1 := b.Promotions[0]
	require.Equal(t, promotion.TypeBuyXGetY, b2g1.Type)
	require.Len(t, b2g1.Lines, 1)
	require.Equal(t, promotion.RoleBuy, b2g1.Lines[0].Role)
	require.Equal(t, 1, b2g1.Lines[0].RequiredQuantity)
	require.True(t, b2g1.Lines[0].IsRequired)
	require.JSONEq(t, `{">=":[{"var":"quantity"},10]}`, string(b.Promotions[1].Condition))
}

func TestParseRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"bad item id":    "prices:\n  - item: nope\n    tier: 7d1c2a4e-0b6f-4c55-9a0e-3f1f6c1b2a01\n    sellingPrice: 1\n    costPrice: 1\n",
		"unknown tier":   "prices:\n  - item: 0f8b1f7e-5b5a-4d8e-8c1a-6a0f5d2c9b11\n    tier: gold\n    sellingPrice: 1\n    costPrice: 1\n",
		"negative price": "prices:\n  - item: 0f8b1f7e-5b5a-4d8e-8c1a-6a0f5d2c9b11\n    tier: 7d1c2a4e-0b6f-4c55-9a0e-3f1f6c1b2a01\n    sellingPrice: -1\n    costPrice: 1\n",
		"discount type":  "discounts:\n  - code: X\n    type: bogus\n    value: 1\n",
		"promotion type": "promotions:\n  - code: X\n    type: bogus\n",
	}
	for name, doc := range cases {
		_, err := pricebook.Parse([]byte(doc))
		require.Error(t, err, name)
		require.True(t, errors.Is(err, pricebook.ErrInvalid), name)
	}

	_, err := pricebook.Parse([]byte("prices:\n  - item: nope\n    tier: x\n    sellingPrice: 1\n    costPrice: 1\n"))
	require.ErrorContains(t, err, "prices[0].item")
}

func TestApplyFeedsCalculator(t *testing.T) {
	b, err := pricebook.Load("testdata/sample.yaml")
	require.NoError(t, err)

	mem := store.NewMemory()
	sum, err := b.Apply(context.Background(), mem)
	require.NoError(t, err)
	require.Equal(t, pricebook.Summary{Tiers: 2, Prices: 3, Overrides: 1, Discounts: 2, Promotions: 2}, sum)

	tier, ok := mem.Tier(retail)
	require.True(t, ok)
	require.True(t, tier.IsDefault)

	calc, err := pricing.NewCalculator(pricing.CalculatorConfig{
		Prices: mem, Discounts: mem, Promotions: mem, Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	asOf := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	res, err := calc.Calculate(context.Background(), pricing.Request{
		TierID: retail,
		AsOf:   &asOf,
		Lines: []pricing.OrderLine{
			{ItemID: itemA, Quantity: 2},
			{ItemID: itemB, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "130.00", res.Subtotal.StringFixed(2))
	require.Equal(t, "10.00", res.TaxAmount.StringFixed(2))
	require.Equal(t, "140.00", res.Total.StringFixed(2))

	// The override applies from two units on.
	res, err = calc.Calculate(context.Background(), pricing.Request{
		TierID:     retail,
		CustomerID: &customer,
		AsOf:       &asOf,
		Lines:      []pricing.OrderLine{{ItemID: itemA, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, "90.00", res.Subtotal.StringFixed(2))
}

type failingWriter struct{ *store.Memory }

func (failingWriter) PutOverride(context.Context, pricing.CustomerPriceOverride) error {
	return errors.New("boom")
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	b, err := pricebook.Load("testdata/sample.yaml")
	require.NoError(t, err)

	sum, err := b.Apply(context.Background(), failingWriter{store.NewMemory()})
	require.EqualError(t, err, "boom")
	require.Equal(t, 2, sum.Tiers)
	require.Equal(t, 3, sum.Prices)
	require.Zero(t, sum.Overrides)
}
