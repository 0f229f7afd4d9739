package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/promotion"
	"github.com/noah-isme/backend-pricing/internal/usage"
)

// ErrNotFound is returned when a lookup matches no row. It matches pricing.ErrNotFound.
var ErrNotFound = fmt.Errorf("store: %w", pricing.ErrNotFound)

const pgForeignKeyViolation = "23503"

// Postgres implements the pricing read stores and the usage store on a pgx pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

var (
	_ pricing.PriceStore     = (*Postgres)(nil)
	_ pricing.DiscountStore  = (*Postgres)(nil)
	_ pricing.PromotionStore = (*Postgres)(nil)
	_ usage.Store            = (*Postgres)(nil)
)

// NewPostgres wraps pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const unitPriceColumns = `item_id, tier_id, selling_price, cost_price, min_price, max_price,
	effective_date, expiry_date, is_taxable, tax_rate, status`

func (p *Postgres) FindActiveUnitPrice(ctx context.Context, itemID, tierID uuid.UUID, asOf time.Time) (pricing.UnitPrice, error) {
	row := p.Pool.QueryRow(ctx, `SELECT `+unitPriceColumns+`
		FROM unit_prices
		WHERE item_id = $1 AND tier_id = $2 AND status = 'ACTIVE'
		  AND (effective_date IS NULL OR effective_date <= $3)
		  AND (expiry_date IS NULL OR expiry_date >= $3)
		ORDER BY effective_date DESC NULLS LAST, created_at DESC
		LIMIT 1`, itemID, tierID, asOf)
	price, err := scanUnitPrice(row)
	if err != nil {
		return pricing.UnitPrice{}, notFound(err, "unit price")
	}
	return price, nil
}

func scanUnitPrice(row rowScanner) (pricing.UnitPrice, error) {
	var (
		p                   pricing.UnitPrice
		selling, cost, rate numeric
		minPrice, maxPrice  numeric
		status              string
	)
	if err := row.Scan(&p.ItemID, &p.TierID, &selling, &cost, &minPrice, &maxPrice,
		&p.EffectiveDate, &p.ExpiryDate, &p.IsTaxable, &rate, &status); err != nil {
		return pricing.UnitPrice{}, err
	}
	p.SellingPrice = selling.decimal()
	p.CostPrice = cost.decimal()
	p.TaxRate = rate.decimal()
	p.MinPrice = minPrice.ptr()
	p.MaxPrice = maxPrice.ptr()
	p.Status = pricing.PriceStatus(status)
	return p, nil
}

func (p *Postgres) FindActiveCustomerOverride(ctx context.Context, customerID, itemID uuid.UUID, quantity int, asOf time.Time) (pricing.CustomerPriceOverride, error) {
	var (
		o            pricing.CustomerPriceOverride
		special, pct numeric
	)
	err := p.Pool.QueryRow(ctx, `SELECT customer_id, item_id, special_price, discount_percentage,
			min_quantity, max_quantity, effective_date, expiry_date
		FROM customer_price_overrides
		WHERE customer_id = $1 AND item_id = $2
		  AND (effective_date IS NULL OR effective_date <= $3)
		  AND (expiry_date IS NULL OR expiry_date >= $3)
		  AND (min_quantity IS NULL OR min_quantity <= $4)
		  AND (max_quantity IS NULL OR max_quantity >= $4)
		ORDER BY effective_date DESC NULLS LAST, created_at DESC
		LIMIT 1`, customerID, itemID, asOf, quantity).Scan(
		&o.CustomerID, &o.ItemID, &special, &pct, &o.MinQuantity, &o.MaxQuantity, &o.EffectiveDate, &o.ExpiryDate)
	if err != nil {
		return pricing.CustomerPriceOverride{}, notFound(err, "customer override")
	}
	o.SpecialPrice = special.decimal()
	o.DiscountPercentage = pct.ptr()
	return o, nil
}

// NextUnitPriceStart returns the earliest effective date after the given instant
// among the active prices of item under tier, or nil when none starts later.
func (p *Postgres) NextUnitPriceStart(ctx context.Context, itemID, tierID uuid.UUID, after time.Time) (*time.Time, error) {
	var next *time.Time
	err := p.Pool.QueryRow(ctx, `SELECT min(effective_date) FROM unit_prices
		WHERE item_id = $1 AND tier_id = $2 AND status = 'ACTIVE' AND effective_date > $3`,
		itemID, tierID, after).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next unit price start: %w", err)
	}
	return next, nil
}

// NextOverrideStart is NextUnitPriceStart for a customer's overrides of item.
func (p *Postgres) NextOverrideStart(ctx context.Context, customerID, itemID uuid.UUID, after time.Time) (*time.Time, error) {
	var next *time.Time
	err := p.Pool.QueryRow(ctx, `SELECT min(effective_date) FROM customer_price_overrides
		WHERE customer_id = $1 AND item_id = $2 AND effective_date > $3`,
		customerID, itemID, after).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next override start: %w", err)
	}
	return next, nil
}

func (p *Postgres) FindDiscountByCode(ctx context.Context, code string) (discount.Rule, error) {
	var (
		r                          discount.Rule
		value, maxDisc, minP, maxP numeric
		typ, status                string
		itemIDs, categoryIDs       []uuid.UUID
	)
	err := p.Pool.QueryRow(ctx, `SELECT code, type, value, max_discount_amount, min_purchase_amount,
			max_purchase_amount, start_date, end_date, usage_limit, usage_count, per_customer_limit,
			is_cumulative, status, item_ids, category_ids
		FROM discounts WHERE code = $1`, code).Scan(
		&r.Code, &typ, &value, &maxDisc, &minP, &maxP, &r.StartDate, &r.EndDate,
		&r.UsageLimit, &r.UsageCount, &r.PerCustomerLimit, &r.IsCumulative, &status, &itemIDs, &categoryIDs)
	if err != nil {
		return discount.Rule{}, notFound(err, "discount")
	}
	r.Type = discount.Type(typ)
	r.Status = discount.Status(status)
	r.Value = value.decimal()
	r.MaxDiscountAmount = maxDisc.ptr()
	r.MinPurchaseAmount = minP.ptr()
	r.MaxPurchaseAmount = maxP.ptr()
	r.ItemIDs = discount.NewIDSet(itemIDs...)
	r.CategoryIDs = discount.NewIDSet(categoryIDs...)
	return r, nil
}

func (p *Postgres) CountDiscountUsageByCustomer(ctx context.Context, code string, customerID uuid.UUID) (int64, error) {
	var n int64
	err := p.Pool.QueryRow(ctx, `SELECT count(*) FROM discount_usages WHERE code = $1 AND customer_id = $2`, code, customerID).Scan(&n)
	return n, err
}

const promotionColumns = `code, name, type, status, start_date, end_date, buy_quantity, get_quantity,
	get_discount_percentage, bundle_price, discount_amount, discount_percentage, min_purchase_amount,
	max_discount_amount, usage_limit, usage_count, per_customer_limit, priority, is_cumulative, condition`

func scanPromotion(row rowScanner) (promotion.Rule, error) {
	var (
		r                                       promotion.Rule
		typ, status                             string
		getPct, bundle, amount, pct, minP, maxD numeric
		condition                               []byte
	)
	if err := row.Scan(&r.Code, &r.Name, &typ, &status, &r.StartDate, &r.EndDate, &r.BuyQuantity, &r.GetQuantity,
		&getPct, &bundle, &amount, &pct, &minP, &maxD, &r.UsageLimit, &r.UsageCount, &r.PerCustomerLimit,
		&r.Priority, &r.IsCumulative, &condition); err != nil {
		return promotion.Rule{}, err
	}
	r.Type = promotion.Type(typ)
	r.Status = promotion.Status(status)
	r.GetDiscountPercentage = getPct.ptr()
	r.BundlePrice = bundle.ptr()
	r.DiscountAmount = amount.ptr()
	r.DiscountPercentage = pct.ptr()
	r.MinPurchaseAmount = minP.ptr()
	r.MaxDiscountAmount = maxD.ptr()
	if len(condition) > 0 {
		r.Condition = json.RawMessage(condition)
	}
	return r, nil
}

func (p *Postgres) FindPromotionByCode(ctx context.Context, code string) (promotion.Rule, error) {
	r, err := scanPromotion(p.Pool.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE code = $1`, code))
	if err != nil {
		return promotion.Rule{}, notFound(err, "promotion")
	}
	rules := []promotion.Rule{r}
	if err := p.attachLines(ctx, rules); err != nil {
		return promotion.Rule{}, err
	}
	return rules[0], nil
}

// ListActivePromotions returns promotions whose status and window admit asOf,
// ordered by priority then code. Usage limits are left to the caller.
func (p *Postgres) ListActivePromotions(ctx context.Context, asOf time.Time) ([]promotion.Rule, error) {
	rows, err := p.Pool.Query(ctx, `SELECT `+promotionColumns+`
		FROM promotions
		WHERE status = 'ACTIVE'
		  AND (start_date IS NULL OR start_date <= $1)
		  AND (end_date IS NULL OR end_date >= $1)
		ORDER BY priority, code`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	defer rows.Close()
	var out []promotion.Rule
	for rows.Next() {
		r, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.attachLines(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) attachLines(ctx context.Context, rules []promotion.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	index := make(map[string]int, len(rules))
	codes := make([]string, len(rules))
	for i, r := range rules {
		index[r.Code] = i
		codes[i] = r.Code
	}
	rows, err := p.Pool.Query(ctx, `SELECT promotion_code, item_id, role, required_quantity, special_price,
			discount_percentage, is_required
		FROM promotion_lines WHERE promotion_code = ANY($1)
		ORDER BY promotion_code, position`, codes)
	if err != nil {
		return fmt.Errorf("load promotion lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code, role   string
			l            promotion.Line
			special, pct numeric
		)
		if err := rows.Scan(&code, &l.ItemID, &role, &l.RequiredQuantity, &special, &pct, &l.IsRequired); err != nil {
			return fmt.Errorf("scan promotion line: %w", err)
		}
		l.Role = promotion.Role(role)
		l.SpecialPrice = special.ptr()
		l.DiscountPercentage = pct.ptr()
		if i, ok := index[code]; ok {
			rules[i].Lines = append(rules[i].Lines, l)
		}
	}
	return rows.Err()
}

func (p *Postgres) CountPromotionUsageByCustomer(ctx context.Context, code string, customerID uuid.UUID) (int64, error) {
	var n int64
	err := p.Pool.QueryRow(ctx, `SELECT count(*) FROM promotion_usages WHERE code = $1 AND customer_id = $2`, code, customerID).Scan(&n)
	return n, err
}

// IncrementDiscountUsage records the order against the discount and bumps its counter
// in one transaction.
func (p *Postgres) IncrementDiscountUsage(ctx context.Context, code string, orderID uuid.UUID, customerID *uuid.UUID) error {
	return p.increment(ctx, "discount_usages", "discounts", code, orderID, customerID)
}

// IncrementPromotionUsage is IncrementDiscountUsage for promotions.
func (p *Postgres) IncrementPromotionUsage(ctx context.Context, code string, orderID uuid.UUID, customerID *uuid.UUID) error {
	return p.increment(ctx, "promotion_usages", "promotions", code, orderID, customerID)
}

func (p *Postgres) increment(ctx context.Context, usageTable, counterTable, code string, orderID uuid.UUID, customerID *uuid.UUID) error {
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO `+usageTable+` (code, order_id, customer_id)
			VALUES ($1, $2, $3) ON CONFLICT (code, order_id) DO NOTHING`, code, orderID, customerID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
				return fmt.Errorf("%s %q: %w", counterTable, code, usage.ErrUnknownCode)
			}
			return fmt.Errorf("record usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return usage.ErrAlreadyRecorded
		}
		tag, err = tx.Exec(ctx, `UPDATE `+counterTable+` SET usage_count = usage_count + 1
			WHERE code = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`, code)
		if err != nil {
			return fmt.Errorf("increment usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return usage.ErrUsageExhausted
		}
		return nil
	})
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
