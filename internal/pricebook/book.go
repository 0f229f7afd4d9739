// Package pricebook loads tier prices, customer overrides, discounts and promotions
// from a YAML document and writes them to a pricing store.
package pricebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/promotion"
)

// ErrInvalid is wrapped by every decoding error of a book entry.
var ErrInvalid = errors.New("pricebook: invalid entry")

// Writer persists price book records.
type Writer interface {
	PutTier(ctx context.Context, t pricing.PriceTier) error
	PutUnitPrice(ctx context.Context, u pricing.UnitPrice) error
	PutOverride(ctx context.Context, o pricing.CustomerPriceOverride) error
	PutDiscount(ctx context.Context, d discount.Rule) error
	PutPromotion(ctx context.Context, r promotion.Rule) error
}

// Book is a decoded price book.
type Book struct {
	Tiers      []pricing.PriceTier
	Prices     []pricing.UnitPrice
	Overrides  []pricing.CustomerPriceOverride
	Discounts  []discount.Rule
	Promotions []promotion.Rule
}

// Summary counts the records written by Apply.
type Summary struct {
	Tiers      int
	Prices     int
	Overrides  int
	Discounts  int
	Promotions int
}

func (s Summary) String() string {
	return fmt.Sprintf("tiers=%d prices=%d overrides=%d discounts=%d promotions=%d",
		s.Tiers, s.Prices, s.Overrides, s.Discounts, s.Promotions)
}

// Load reads and parses the book at path.
func Load(path string) (Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Book{}, err
	}
	b, err := Parse(data)
	if err != nil {
		return Book{}, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Parse decodes a YAML price book. Tiers may be referenced by code or id.
func Parse(data []byte) (Book, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Book{}, err
	}
	return doc.decode()
}

// Apply writes the book in dependency order and stops at the first failure.
func (b Book) Apply(ctx context.Context, w Writer) (Summary, error) {
	var s Summary
	for _, t := range b.Tiers {
		if err := w.PutTier(ctx, t); err != nil {
			return s, err
		}
		s.Tiers++
	}
	for _, p := range b.Prices {
		if err := w.PutUnitPrice(ctx, p); err != nil {
			return s, err
		}
		s.Prices++
	}
	for _, o := range b.Overrides {
		if err := w.PutOverride(ctx, o); err != nil {
			return s, err
		}
		s.Overrides++
	}
	for _, d := range b.Discounts {
		if err := w.PutDiscount(ctx, d); err != nil {
			return s, err
		}
		s.Discounts++
	}
	for _, r := range b.Promotions {
		if err := w.PutPromotion(ctx, r); err != nil {
			return s, err
		}
		s.Promotions++
	}
	return s, nil
}

type document struct {
	Tiers      []tierDoc      `yaml:"tiers"`
	Prices     []priceDoc     `yaml:"prices"`
	Overrides  []overrideDoc  `yaml:"overrides"`
	Discounts  []discountDoc  `yaml:"discounts"`
	Promotions []promotionDoc `yaml:"promotions"`
}

type tierDoc struct {
	ID        string `yaml:"id"`
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	Priority  int    `yaml:"priority"`
	IsDefault bool   `yaml:"default"`
}

type priceDoc struct {
	Item      string     `yaml:"item"`
	Tier      string     `yaml:"tier"`
	Selling   string     `yaml:"sellingPrice"`
	Cost      string     `yaml:"costPrice"`
	Min       string     `yaml:"minPrice"`
	Max       string     `yaml:"maxPrice"`
	Effective *time.Time `yaml:"effective"`
	Expiry    *time.Time `yaml:"expiry"`
	Taxable   bool       `yaml:"taxable"`
	TaxRate   string     `yaml:"taxRate"`
	Status    string     `yaml:"status"`
}

type overrideDoc struct {
	Customer  string     `yaml:"customer"`
	Item      string     `yaml:"item"`
	Special   string     `yaml:"specialPrice"`
	Pct       string     `yaml:"discountPercentage"`
	MinQty    *int       `yaml:"minQuantity"`
	MaxQty    *int       `yaml:"maxQuantity"`
	Effective *time.Time `yaml:"effective"`
	Expiry    *time.Time `yaml:"expiry"`
}

type discountDoc struct {
	Code             string     `yaml:"code"`
	Type             string     `yaml:"type"`
	Value            string     `yaml:"value"`
	MaxDiscount      string     `yaml:"maxDiscountAmount"`
	MinPurchase      string     `yaml:"minPurchaseAmount"`
	MaxPurchase      string     `yaml:"maxPurchaseAmount"`
	Start            *time.Time `yaml:"start"`
	End              *time.Time `yaml:"end"`
	UsageLimit       *int32     `yaml:"usageLimit"`
	PerCustomerLimit *int32     `yaml:"perCustomerLimit"`
	Cumulative       bool       `yaml:"cumulative"`
	Status           string     `yaml:"status"`
	Items            []string   `yaml:"items"`
	Categories       []string   `yaml:"categories"`
}

type promotionDoc struct {
	Code             string     `yaml:"code"`
	Name             string     `yaml:"name"`
	Type             string     `yaml:"type"`
	Status           string     `yaml:"status"`
	Start            *time.Time `yaml:"start"`
	End              *time.Time `yaml:"end"`
	BuyQuantity      int        `yaml:"buyQuantity"`
	GetQuantity      int        `yaml:"getQuantity"`
	GetPct           string     `yaml:"getDiscountPercentage"`
	BundlePrice      string     `yaml:"bundlePrice"`
	Amount           string     `yaml:"discountAmount"`
	Pct              string     `yaml:"discountPercentage"`
	MinPurchase      string     `yaml:"minPurchaseAmount"`
	MaxDiscount      string     `yaml:"maxDiscountAmount"`
	UsageLimit       *int32     `yaml:"usageLimit"`
	PerCustomerLimit *int32     `yaml:"perCustomerLimit"`
	Priority         int        `yaml:"priority"`
	Cumulative       bool       `yaml:"cumulative"`
	Condition        any        `yaml:"condition"`
	Lines            []lineDoc  `yaml:"lines"`
}

type lineDoc struct {
	Item     string `yaml:"item"`
	Role     string `yaml:"role"`
	Quantity int    `yaml:"quantity"`
	Special  string `yaml:"specialPrice"`
	Pct      string `yaml:"discountPercentage"`
	Required *bool  `yaml:"required"`
}

// decoder accumulates the first error so entries read as straight-line code.
type decoder struct {
	where string
	err   error
	tiers map[string]uuid.UUID
}

func (d *decoder) fail(field, msg string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s.%s: %s", ErrInvalid, d.where, field, msg)
	}
}

func (d *decoder) id(field, s string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		d.fail(field, "not a uuid")
	}
	return id
}

func (d *decoder) ids(field string, in []string) discount.IDSet {
	out := make([]uuid.UUID, 0, len(in))
	for i, s := range in {
		out = append(out, d.id(fmt.Sprintf("%s[%d]", field, i), s))
	}
	return discount.NewIDSet(out...)
}

func (d *decoder) tier(field, ref string) uuid.UUID {
	if id, ok := d.tiers[ref]; ok {
		return id
	}
	return d.id(field, ref)
}

func (d *decoder) amount(field, s string) decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		d.fail(field, "required")
		return decimal.Zero
	}
	v := d.optAmount(field, s)
	if v == nil {
		return decimal.Zero
	}
	return *v
}

func (d *decoder) optAmount(field, s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.fail(field, "not a decimal")
		return nil
	}
	if v.IsNegative() {
		d.fail(field, "must not be negative")
	}
	return &v
}

func upper(s, fallback string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	return s
}

func (doc document) decode() (Book, error) {
	d := &decoder{tiers: map[string]uuid.UUID{}}
	var b Book

	for i, t := range doc.Tiers {
		d.where = fmt.Sprintf("tiers[%d]", i)
		if strings.TrimSpace(t.Code) == "" {
			d.fail("code", "required")
		}
		id := d.id("id", t.ID)
		d.tiers[t.Code] = id
		b.Tiers = append(b.Tiers, pricing.PriceTier{
			ID: id, Code: t.Code, Name: t.Name, Priority: t.Priority, IsDefault: t.IsDefault,
		})
	}

	for i, p := range doc.Prices {
		d.where = fmt.Sprintf("prices[%d]", i)
		status := pricing.PriceStatus(upper(p.Status, string(pricing.PriceActive)))
		if status != pricing.PriceActive && status != pricing.PriceInactive {
			d.fail("status", "unknown status")
		}
		b.Prices = append(b.Prices, pricing.UnitPrice{
			ItemID:        d.id("item", p.Item),
			TierID:        d.tier("tier", p.Tier),
			SellingPrice:  d.amount("sellingPrice", p.Selling),
			CostPrice:     d.amount("costPrice", p.Cost),
			MinPrice:      d.optAmount("minPrice", p.Min),
			MaxPrice:      d.optAmount("maxPrice", p.Max),
			EffectiveDate: p.Effective,
			ExpiryDate:    p.Expiry,
			IsTaxable:     p.Taxable,
			TaxRate:       orZero(d.optAmount("taxRate", p.TaxRate)),
			Status:        status,
		})
	}

	for i, o := range doc.Overrides {
		d.where = fmt.Sprintf("overrides[%d]", i)
		b.Overrides = append(b.Overrides, pricing.CustomerPriceOverride{
			CustomerID:         d.id("customer", o.Customer),
			ItemID:             d.id("item", o.Item),
			SpecialPrice:       d.amount("specialPrice", o.Special),
			DiscountPercentage: d.optAmount("discountPercentage", o.Pct),
			MinQuantity:        o.MinQty,
			MaxQuantity:        o.MaxQty,
			EffectiveDate:      o.Effective,
			ExpiryDate:         o.Expiry,
		})
	}

	for i, x := range doc.Discounts {
		d.where = fmt.Sprintf("discounts[%d]", i)
		if strings.TrimSpace(x.Code) == "" {
			d.fail("code", "required")
		}
		typ := discount.Type(upper(x.Type, ""))
		if typ != discount.TypePercentage && typ != discount.TypeFixed {
			d.fail("type", "unknown discount type")
		}
		b.Discounts = append(b.Discounts, discount.Rule{
			Code:              x.Code,
			Type:              typ,
			Value:             d.amount("value", x.Value),
			MaxDiscountAmount: d.optAmount("maxDiscountAmount", x.MaxDiscount),
			MinPurchaseAmount: d.optAmount("minPurchaseAmount", x.MinPurchase),
			MaxPurchaseAmount: d.optAmount("maxPurchaseAmount", x.MaxPurchase),
			StartDate:         x.Start,
			EndDate:           x.End,
			UsageLimit:        x.UsageLimit,
			PerCustomerLimit:  x.PerCustomerLimit,
			IsCumulative:      x.Cumulative,
			Status:            discount.Status(upper(x.Status, string(discount.StatusActive))),
			ItemIDs:           d.ids("items", x.Items),
			CategoryIDs:       d.ids("categories", x.Categories),
		})
	}

	for i, x := range doc.Promotions {
		d.where = fmt.Sprintf("promotions[%d]", i)
		if strings.TrimSpace(x.Code) == "" {
			d.fail("code", "required")
		}
		r := promotion.Rule{
			Code:                  x.Code,
			Name:                  x.Name,
			Type:                  promotion.Type(upper(x.Type, "")),
			Status:                promotion.Status(upper(x.Status, string(promotion.StatusActive))),
			StartDate:             x.Start,
			EndDate:               x.End,
			BuyQuantity:           x.BuyQuantity,
			GetQuantity:           x.GetQuantity,
			GetDiscountPercentage: d.optAmount("getDiscountPercentage", x.GetPct),
			BundlePrice:           d.optAmount("bundlePrice", x.BundlePrice),
			DiscountAmount:        d.optAmount("discountAmount", x.Amount),
			DiscountPercentage:    d.optAmount("discountPercentage", x.Pct),
			MinPurchaseAmount:     d.optAmount("minPurchaseAmount", x.MinPurchase),
			MaxDiscountAmount:     d.optAmount("maxDiscountAmount", x.MaxDiscount),
			UsageLimit:            x.UsageLimit,
			PerCustomerLimit:      x.PerCustomerLimit,
			Priority:              x.Priority,
			IsCumulative:          x.Cumulative,
		}
		switch r.Type {
		case promotion.TypePercentage, promotion.TypeFixed, promotion.TypeBuyXGetY, promotion.TypeBundle:
		default:
			d.fail("type", "unknown promotion type")
		}
		if x.Condition != nil {
			raw, err := json.Marshal(x.Condition)
			if err != nil {
				d.fail("condition", err.Error())
			}
			r.Condition = raw
		}
		for j, l := range x.Lines {
			field := fmt.Sprintf("lines[%d]", j)
			required := true
			if l.Required != nil {
				required = *l.Required
			}
			qty := l.Quantity
			if qty == 0 {
				qty = 1
			}
			r.Lines = append(r.Lines, promotion.Line{
				ItemID:             d.id(field+".item", l.Item),
				Role:               promotion.Role(upper(l.Role, string(promotion.RoleBuy))),
				RequiredQuantity:   qty,
				SpecialPrice:       d.optAmount(field+".specialPrice", l.Special),
				DiscountPercentage: d.optAmount(field+".discountPercentage", l.Pct),
				IsRequired:         required,
			})
		}
		b.Promotions = append(b.Promotions, r)
	}

	if d.err != nil {
		return Book{}, d.err
	}
	return b, nil
}

func orZero(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}
