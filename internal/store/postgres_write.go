package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/promotion"
)

// PutTier inserts or updates a price tier.
func (p *Postgres) PutTier(ctx context.Context, t pricing.PriceTier) error {
	_, err := p.Pool.Exec(ctx, `INSERT INTO price_tiers (id, code, name, priority, is_default)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name,
			priority = EXCLUDED.priority, is_default = EXCLUDED.is_default`,
		t.ID, t.Code, t.Name, t.Priority, t.IsDefault)
	if err != nil {
		return fmt.Errorf("put tier %s: %w", t.Code, err)
	}
	return nil
}

// PutUnitPrice replaces the price of (item, tier) starting at the same effective date.
func (p *Postgres) PutUnitPrice(ctx context.Context, u pricing.UnitPrice) error {
	status := u.Status
	if status == "" {
		status = pricing.PriceActive
	}
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM unit_prices
			WHERE item_id = $1 AND tier_id = $2 AND effective_date IS NOT DISTINCT FROM $3`,
			u.ItemID, u.TierID, u.EffectiveDate); err != nil {
			return fmt.Errorf("replace unit price: %w", err)
		}
		_, err := tx.Exec(ctx, `INSERT INTO unit_prices (item_id, tier_id, selling_price, cost_price,
				min_price, max_price, effective_date, expiry_date, is_taxable, tax_rate, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			u.ItemID, u.TierID, toNumeric(u.SellingPrice), toNumeric(u.CostPrice),
			toNullNumeric(u.MinPrice), toNullNumeric(u.MaxPrice), u.EffectiveDate, u.ExpiryDate,
			u.IsTaxable, toNumeric(u.TaxRate), string(status))
		if err != nil {
			return fmt.Errorf("insert unit price: %w", err)
		}
		return nil
	})
}

// PutOverride replaces a customer's special price for an item with the same effective
// date and quantity bounds.
func (p *Postgres) PutOverride(ctx context.Context, o pricing.CustomerPriceOverride) error {
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM customer_price_overrides
			WHERE customer_id = $1 AND item_id = $2 AND effective_date IS NOT DISTINCT FROM $3
			  AND min_quantity IS NOT DISTINCT FROM $4 AND max_quantity IS NOT DISTINCT FROM $5`,
			o.CustomerID, o.ItemID, o.EffectiveDate, o.MinQuantity, o.MaxQuantity); err != nil {
			return fmt.Errorf("replace override: %w", err)
		}
		_, err := tx.Exec(ctx, `INSERT INTO customer_price_overrides (customer_id, item_id, special_price,
				discount_percentage, min_quantity, max_quantity, effective_date, expiry_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.CustomerID, o.ItemID, toNumeric(o.SpecialPrice), toNullNumeric(o.DiscountPercentage),
			o.MinQuantity, o.MaxQuantity, o.EffectiveDate, o.ExpiryDate)
		if err != nil {
			return fmt.Errorf("insert override: %w", err)
		}
		return nil
	})
}

// PutDiscount inserts or updates a discount. The stored usage count is never overwritten.
func (p *Postgres) PutDiscount(ctx context.Context, d discount.Rule) error {
	_, err := p.Pool.Exec(ctx, `INSERT INTO discounts (code, type, value, max_discount_amount,
			min_purchase_amount, max_purchase_amount, start_date, end_date, usage_limit, usage_count,
			per_customer_limit, is_cumulative, status, item_ids, category_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (code) DO UPDATE SET type = EXCLUDED.type, value = EXCLUDED.value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			min_purchase_amount = EXCLUDED.min_purchase_amount,
			max_purchase_amount = EXCLUDED.max_purchase_amount,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			usage_limit = EXCLUDED.usage_limit, per_customer_limit = EXCLUDED.per_customer_limit,
			is_cumulative = EXCLUDED.is_cumulative, status = EXCLUDED.status,
			item_ids = EXCLUDED.item_ids, category_ids = EXCLUDED.category_ids`,
		d.Code, string(d.Type), toNumeric(d.Value), toNullNumeric(d.MaxDiscountAmount),
		toNullNumeric(d.MinPurchaseAmount), toNullNumeric(d.MaxPurchaseAmount), d.StartDate, d.EndDate,
		d.UsageLimit, d.UsageCount, d.PerCustomerLimit, d.IsCumulative, string(d.Status),
		idSlice(d.ItemIDs), idSlice(d.CategoryIDs))
	if err != nil {
		return fmt.Errorf("put discount %s: %w", d.Code, err)
	}
	return nil
}

// PutPromotion inserts or updates a promotion and replaces its lines.
func (p *Postgres) PutPromotion(ctx context.Context, r promotion.Rule) error {
	var condition []byte
	if len(r.Condition) > 0 {
		condition = r.Condition
	}
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO promotions (code, name, type, status, start_date, end_date,
				buy_quantity, get_quantity, get_discount_percentage, bundle_price, discount_amount,
				discount_percentage, min_purchase_amount, max_discount_amount, usage_limit, usage_count,
				per_customer_limit, priority, is_cumulative, condition)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
				status = EXCLUDED.status, start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
				buy_quantity = EXCLUDED.buy_quantity, get_quantity = EXCLUDED.get_quantity,
				get_discount_percentage = EXCLUDED.get_discount_percentage,
				bundle_price = EXCLUDED.bundle_price, discount_amount = EXCLUDED.discount_amount,
				discount_percentage = EXCLUDED.discount_percentage,
				min_purchase_amount = EXCLUDED.min_purchase_amount,
				max_discount_amount = EXCLUDED.max_discount_amount, usage_limit = EXCLUDED.usage_limit,
				per_customer_limit = EXCLUDED.per_customer_limit, priority = EXCLUDED.priority,
				is_cumulative = EXCLUDED.is_cumulative, condition = EXCLUDED.condition`,
			r.Code, r.Name, string(r.Type), string(r.Status), r.StartDate, r.EndDate,
			r.BuyQuantity, r.GetQuantity, toNullNumeric(r.GetDiscountPercentage), toNullNumeric(r.BundlePrice),
			toNullNumeric(r.DiscountAmount), toNullNumeric(r.DiscountPercentage), toNullNumeric(r.MinPurchaseAmount),
			toNullNumeric(r.MaxDiscountAmount), r.UsageLimit, r.UsageCount, r.PerCustomerLimit, r.Priority,
			r.IsCumulative, condition)
		if err != nil {
			return fmt.Errorf("put promotion %s: %w", r.Code, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM promotion_lines WHERE promotion_code = $1`, r.Code); err != nil {
			return fmt.Errorf("clear promotion lines: %w", err)
		}
		batch := &pgx.Batch{}
		for i, l := range r.Lines {
			batch.Queue(`INSERT INTO promotion_lines (promotion_code, position, item_id, role,
					required_quantity, special_price, discount_percentage, is_required)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				r.Code, i, l.ItemID, string(l.Role), l.RequiredQuantity,
				toNullNumeric(l.SpecialPrice), toNullNumeric(l.DiscountPercentage), l.IsRequired)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert promotion lines: %w", err)
		}
		return nil
	})
}

func idSlice(s discount.IDSet) []uuid.UUID {
	if len(s) == 0 {
		return []uuid.UUID{}
	}
	return s.Slice()
}
