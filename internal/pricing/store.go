package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/promotion"
)

// PriceStore looks up unit prices and customer overrides. Implementations return an
// error matching ErrNotFound when no record exists. FindActiveCustomerOverride only
// considers overrides whose quantity bounds admit quantity.
type PriceStore interface {
	FindActiveUnitPrice(ctx context.Context, itemID, tierID uuid.UUID, asOf time.Time) (UnitPrice, error)
	FindActiveCustomerOverride(ctx context.Context, customerID, itemID uuid.UUID, quantity int, asOf time.Time) (CustomerPriceOverride, error)
}

// DiscountStore looks up discount codes and their per-customer usage.
type DiscountStore interface {
	FindDiscountByCode(ctx context.Context, code string) (discount.Rule, error)
	CountDiscountUsageByCustomer(ctx context.Context, code string, customerID uuid.UUID) (int64, error)
}

// PromotionStore looks up promotions and their per-customer usage.
type PromotionStore interface {
	FindPromotionByCode(ctx context.Context, code string) (promotion.Rule, error)
	ListActivePromotions(ctx context.Context, asOf time.Time) ([]promotion.Rule, error)
	CountPromotionUsageByCustomer(ctx context.Context, code string, customerID uuid.UUID) (int64, error)
}
