package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/promotion"
	"github.com/noah-isme/backend-pricing/internal/usage"
)

type pairKey struct{ a, b uuid.UUID }

type usageRecord struct {
	customerID *uuid.UUID
}

// Memory is an in-process implementation of the pricing and usage stores.
// It is safe for concurrent use.
type Memory struct {
	mu             sync.RWMutex
	tiers          map[uuid.UUID]pricing.PriceTier
	prices         map[pairKey][]pricing.UnitPrice
	overrides      map[pairKey][]pricing.CustomerPriceOverride
	discounts      map[string]discount.Rule
	promotions     map[string]promotion.Rule
	discountUsage  map[string]map[uuid.UUID]usageRecord
	promotionUsage map[string]map[uuid.UUID]usageRecord
}

var (
	_ pricing.PriceStore     = (*Memory)(nil)
	_ pricing.DiscountStore  = (*Memory)(nil)
	_ pricing.PromotionStore = (*Memory)(nil)
	_ usage.Store            = (*Memory)(nil)
)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		tiers:          map[uuid.UUID]pricing.PriceTier{},
		prices:         map[pairKey][]pricing.UnitPrice{},
		overrides:      map[pairKey][]pricing.CustomerPriceOverride{},
		discounts:      map[string]discount.Rule{},
		promotions:     map[string]promotion.Rule{},
		discountUsage:  map[string]map[uuid.UUID]usageRecord{},
		promotionUsage: map[string]map[uuid.UUID]usageRecord{},
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) PutTier(_ context.Context, t pricing.PriceTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[t.ID] = t
	return nil
}

// Tier returns a stored tier.
func (m *Memory) Tier(id uuid.UUID) (pricing.PriceTier, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tiers[id]
	return t, ok
}

func (m *Memory) PutUnitPrice(_ context.Context, u pricing.UnitPrice) error {
	if u.Status == "" {
		u.Status = pricing.PriceActive
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{u.ItemID, u.TierID}
	kept := m.prices[key][:0:0]
	for _, existing := range m.prices[key] {
		if !sameTime(existing.EffectiveDate, u.EffectiveDate) {
			kept = append(kept, existing)
		}
	}
	m.prices[key] = append(kept, u)
	return nil
}

func (m *Memory) PutOverride(_ context.Context, o pricing.CustomerPriceOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{o.CustomerID, o.ItemID}
	kept := m.overrides[key][:0:0]
	for _, existing := range m.overrides[key] {
		if !sameTime(existing.EffectiveDate, o.EffectiveDate) || !sameBounds(existing, o) {
			kept = append(kept, existing)
		}
	}
	m.overrides[key] = append(kept, o)
	return nil
}

func (m *Memory) PutDiscount(_ context.Context, d discount.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.discounts[d.Code]; ok {
		d.UsageCount = existing.UsageCount
	}
	m.discounts[d.Code] = d
	return nil
}

func (m *Memory) PutPromotion(_ context.Context, r promotion.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.promotions[r.Code]; ok {
		r.UsageCount = existing.UsageCount
	}
	r.Lines = append([]promotion.Line(nil), r.Lines...)
	m.promotions[r.Code] = r
	return nil
}

func (m *Memory) FindActiveUnitPrice(_ context.Context, itemID, tierID uuid.UUID, asOf time.Time) (pricing.UnitPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  pricing.UnitPrice
		found bool
	)
	for _, p := range m.prices[pairKey{itemID, tierID}] {
		if !p.ValidAt(asOf) {
			continue
		}
		if !found || laterStart(p.EffectiveDate, best.EffectiveDate) {
			best, found = p, true
		}
	}
	if !found {
		return pricing.UnitPrice{}, fmt.Errorf("unit price: %w", ErrNotFound)
	}
	return best, nil
}

func (m *Memory) FindActiveCustomerOverride(_ context.Context, customerID, itemID uuid.UUID, quantity int, asOf time.Time) (pricing.CustomerPriceOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  pricing.CustomerPriceOverride
		found bool
	)
	for _, o := range m.overrides[pairKey{customerID, itemID}] {
		if !o.ValidAt(asOf) || !o.Admits(quantity) {
			continue
		}
		if !found || laterStart(o.EffectiveDate, best.EffectiveDate) {
			best, found = o, true
		}
	}
	if !found {
		return pricing.CustomerPriceOverride{}, fmt.Errorf("customer override: %w", ErrNotFound)
	}
	return best, nil
}

// NextUnitPriceStart returns the earliest effective date after the given instant
// among the active prices of item under tier, or nil when none starts later.
func (m *Memory) NextUnitPriceStart(_ context.Context, itemID, tierID uuid.UUID, after time.Time) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var next *time.Time
	for _, p := range m.prices[pairKey{itemID, tierID}] {
		if p.Status == pricing.PriceActive {
			next = nextStart(next, p.EffectiveDate, after)
		}
	}
	return next, nil
}

// NextOverrideStart is NextUnitPriceStart for a customer's overrides of item.
func (m *Memory) NextOverrideStart(_ context.Context, customerID, itemID uuid.UUID, after time.Time) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var next *time.Time
	for _, o := range m.overrides[pairKey{customerID, itemID}] {
		next = nextStart(next, o.EffectiveDate, after)
	}
	return next, nil
}

func (m *Memory) FindDiscountByCode(_ context.Context, code string) (discount.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.discounts[code]
	if !ok {
		return discount.Rule{}, fmt.Errorf("discount: %w", ErrNotFound)
	}
	return d, nil
}

func (m *Memory) CountDiscountUsageByCustomer(_ context.Context, code string, customerID uuid.UUID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countByCustomer(m.discountUsage[code], customerID), nil
}

func (m *Memory) FindPromotionByCode(_ context.Context, code string) (promotion.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.promotions[code]
	if !ok {
		return promotion.Rule{}, fmt.Errorf("promotion: %w", ErrNotFound)
	}
	return r, nil
}

func (m *Memory) ListActivePromotions(_ context.Context, asOf time.Time) ([]promotion.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []promotion.Rule
	for _, r := range m.promotions {
		if r.Status != promotion.StatusActive {
			continue
		}
		if r.StartDate != nil && r.StartDate.After(asOf) {
			continue
		}
		if r.EndDate != nil && r.EndDate.Before(asOf) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (m *Memory) CountPromotionUsageByCustomer(_ context.Context, code string, customerID uuid.UUID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countByCustomer(m.promotionUsage[code], customerID), nil
}

func (m *Memory) IncrementDiscountUsage(_ context.Context, code string, orderID uuid.UUID, customerID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discounts[code]
	if !ok {
		return fmt.Errorf("discount %q: %w", code, usage.ErrUnknownCode)
	}
	if err := record(m.discountUsage, code, orderID, customerID, d.UsageLimit, d.UsageCount); err != nil {
		return err
	}
	d.UsageCount++
	m.discounts[code] = d
	return nil
}

func (m *Memory) IncrementPromotionUsage(_ context.Context, code string, orderID uuid.UUID, customerID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.promotions[code]
	if !ok {
		return fmt.Errorf("promotion %q: %w", code, usage.ErrUnknownCode)
	}
	if err := record(m.promotionUsage, code, orderID, customerID, r.UsageLimit, r.UsageCount); err != nil {
		return err
	}
	r.UsageCount++
	m.promotions[code] = r
	return nil
}

func record(book map[string]map[uuid.UUID]usageRecord, code string, orderID uuid.UUID, customerID *uuid.UUID, limit *int32, count int32) error {
	orders := book[code]
	if _, done := orders[orderID]; done {
		return usage.ErrAlreadyRecorded
	}
	if limit != nil && count >= *limit {
		return usage.ErrUsageExhausted
	}
	if orders == nil {
		orders = map[uuid.UUID]usageRecord{}
		book[code] = orders
	}
	orders[orderID] = usageRecord{customerID: customerID}
	return nil
}

func countByCustomer(orders map[uuid.UUID]usageRecord, customerID uuid.UUID) int64 {
	var n int64
	for _, rec := range orders {
		if rec.customerID != nil && *rec.customerID == customerID {
			n++
		}
	}
	return n
}

func sameBounds(a, b pricing.CustomerPriceOverride) bool {
	return sameInt(a.MinQuantity, b.MinQuantity) && sameInt(a.MaxQuantity, b.MaxQuantity)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func nextStart(next, start *time.Time, after time.Time) *time.Time {
	if start == nil || !start.After(after) {
		return next
	}
	if next == nil || start.Before(*next) {
		s := *start
		return &s
	}
	return next
}

// laterStart reports whether a begins after b; an open start sorts last.
func laterStart(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
