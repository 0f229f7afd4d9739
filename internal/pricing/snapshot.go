package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/promotion"
)

// Snapshot holds every record a calculation reads, captured once at AsOf.
type Snapshot struct {
	AsOf       time.Time
	Prices     []ResolvedPrice
	Discount   *discount.Rule
	Promotion  *promotion.Rule
	Candidates []promotion.Rule
}

// LoadSnapshot performs all store reads for req. Prices are aligned with req.Lines.
func (c *Calculator) LoadSnapshot(ctx context.Context, req Request) (Snapshot, error) {
	snap := Snapshot{AsOf: c.asOf(req), Prices: make([]ResolvedPrice, 0, len(req.Lines))}

	for _, line := range req.Lines {
		price, err := c.resolver.Resolve(ctx, ResolveInput{
			ItemID:     line.ItemID,
			TierID:     req.TierID,
			CustomerID: req.CustomerID,
			Quantity:   line.Quantity,
			AsOf:       snap.AsOf,
		})
		if err != nil {
			return Snapshot{}, err
		}
		snap.Prices = append(snap.Prices, price)
	}

	if code := strings.TrimSpace(req.DiscountCode); code != "" {
		rule, err := c.loadDiscount(ctx, code, req)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Discount = &rule
	}

	if code := strings.TrimSpace(req.PromotionCode); code != "" {
		rule, err := c.loadPromotion(ctx, code, req)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Promotion = &rule
	} else if c.autoEnabled(req) {
		candidates, err := c.promotions.ListActivePromotions(ctx, snap.AsOf)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list active promotions: %w", err)
		}
		for i := range candidates {
			if err := c.fillPromotionUsage(ctx, &candidates[i], req); err != nil {
				return Snapshot{}, err
			}
		}
		snap.Candidates = candidates
	}
	return snap, nil
}

func (c *Calculator) loadDiscount(ctx context.Context, code string, req Request) (discount.Rule, error) {
	rule, err := c.discounts.FindDiscountByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return discount.Rule{}, &InvalidDiscountError{Code: code, Reason: "discount not found", Err: err}
		}
		return discount.Rule{}, fmt.Errorf("find discount %q: %w", code, err)
	}
	if req.CustomerID != nil && rule.PerCustomerLimit != nil && *rule.PerCustomerLimit > 0 {
		used, err := c.discounts.CountDiscountUsageByCustomer(ctx, rule.Code, *req.CustomerID)
		if err != nil {
			return discount.Rule{}, fmt.Errorf("count discount usage: %w", err)
		}
		rule.CustomerUsage = used
	}
	return rule, nil
}

func (c *Calculator) loadPromotion(ctx context.Context, code string, req Request) (promotion.Rule, error) {
	rule, err := c.promotions.FindPromotionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return promotion.Rule{}, &PromotionExpiredError{Code: code, Reason: "promotion not found", Err: err}
		}
		return promotion.Rule{}, fmt.Errorf("find promotion %q: %w", code, err)
	}
	if err := c.fillPromotionUsage(ctx, &rule, req); err != nil {
		return promotion.Rule{}, err
	}
	return rule, nil
}

func (c *Calculator) fillPromotionUsage(ctx context.Context, rule *promotion.Rule, req Request) error {
	if req.CustomerID == nil || rule.PerCustomerLimit == nil || *rule.PerCustomerLimit <= 0 {
		return nil
	}
	used, err := c.promotions.CountPromotionUsageByCustomer(ctx, rule.Code, *req.CustomerID)
	if err != nil {
		return fmt.Errorf("count promotion usage: %w", err)
	}
	rule.CustomerUsage = used
	return nil
}
