package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/usage"
)

// openPostgres connects to TEST_DATABASE_URL (or DATABASE_URL) and applies the
// migrations. Tests using it are skipped when neither is set.
func openPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(url))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgres(pool)
}

func TestPostgresIncrementIsIdempotentAndBounded(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	code := "T" + uuid.NewString()[:8]
	limit := int32(2)
	require.NoError(t, p.PutDiscount(ctx, discount.Rule{
		Code: code, Type: discount.TypeFixed, Value: decimal.NewFromInt(5), Status: discount.StatusActive, UsageLimit: &limit,
	}))
	t.Cleanup(func() {
		_, _ = p.Pool.Exec(context.Background(), `DELETE FROM discounts WHERE code = $1`, code)
	})

	buyer := uuid.New()
	first, second := uuid.New(), uuid.New()
	require.NoError(t, p.IncrementDiscountUsage(ctx, code, first, &buyer))
	require.ErrorIs(t, p.IncrementDiscountUsage(ctx, code, first, &buyer), usage.ErrAlreadyRecorded)
	require.NoError(t, p.IncrementDiscountUsage(ctx, code, second, &buyer))
	require.ErrorIs(t, p.IncrementDiscountUsage(ctx, code, uuid.New(), &buyer), usage.ErrUsageExhausted)

	d, err := p.FindDiscountByCode(ctx, code)
	require.NoError(t, err)
	require.EqualValues(t, 2, d.UsageCount)

	// The exhausted attempt rolled back its usage row.
	n, err := p.CountDiscountUsageByCustomer(ctx, code, buyer)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.ErrorIs(t, p.IncrementDiscountUsage(ctx, "NOPE"+code, uuid.New(), nil), usage.ErrUnknownCode)
}

func TestPostgresConcurrentIncrementsRespectLimit(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	code := "T" + uuid.NewString()[:8]
	limit := int32(5)
	require.NoError(t, p.PutDiscount(ctx, discount.Rule{
		Code: code, Type: discount.TypePercentage, Value: decimal.NewFromInt(10), Status: discount.StatusActive, UsageLimit: &limit,
	}))
	t.Cleanup(func() {
		_, _ = p.Pool.Exec(context.Background(), `DELETE FROM discounts WHERE code = $1`, code)
	})

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.IncrementDiscountUsage(ctx, code, uuid.New(), nil); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5, ok)

	d, err := p.FindDiscountByCode(ctx, code)
	require.NoError(t, err)
	require.EqualValues(t, 5, d.UsageCount)
}

func TestPostgresOverrideQuantityBandsAndNextStart(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	tierID, itemID, customerID := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, p.PutTier(ctx, pricing.PriceTier{ID: tierID, Code: "t-" + tierID.String()[:8], Name: "test"}))
	t.Cleanup(func() {
		bg := context.Background()
		_, _ = p.Pool.Exec(bg, `DELETE FROM customer_price_overrides WHERE customer_id = $1`, customerID)
		_, _ = p.Pool.Exec(bg, `DELETE FROM unit_prices WHERE tier_id = $1`, tierID)
		_, _ = p.Pool.Exec(bg, `DELETE FROM price_tiers WHERE id = $1`, tierID)
	})

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, p.PutUnitPrice(ctx, pricing.UnitPrice{ItemID: itemID, TierID: tierID, SellingPrice: decimal.NewFromInt(10), EffectiveDate: &jan}))
	require.NoError(t, p.PutUnitPrice(ctx, pricing.UnitPrice{ItemID: itemID, TierID: tierID, SellingPrice: decimal.NewFromInt(12), EffectiveDate: &jun}))

	one, nine, ten := 1, 9, 10
	require.NoError(t, p.PutOverride(ctx, pricing.CustomerPriceOverride{CustomerID: customerID, ItemID: itemID, SpecialPrice: decimal.NewFromInt(9), MinQuantity: &one, MaxQuantity: &nine}))
	require.NoError(t, p.PutOverride(ctx, pricing.CustomerPriceOverride{CustomerID: customerID, ItemID: itemID, SpecialPrice: decimal.NewFromInt(8), MinQuantity: &ten}))

	small, err := p.FindActiveCustomerOverride(ctx, customerID, itemID, 5, asOf)
	require.NoError(t, err)
	require.True(t, small.SpecialPrice.Equal(decimal.NewFromInt(9)))
	large, err := p.FindActiveCustomerOverride(ctx, customerID, itemID, 12, asOf)
	require.NoError(t, err)
	require.True(t, large.SpecialPrice.Equal(decimal.NewFromInt(8)))

	next, err := p.NextUnitPriceStart(ctx, itemID, tierID, asOf)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.True(t, next.Equal(jun))

	next, err = p.NextOverrideStart(ctx, customerID, itemID, asOf)
	require.NoError(t, err)
	require.Nil(t, next)
}
