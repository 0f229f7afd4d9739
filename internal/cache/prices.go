package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/pricing"
)

// KeyPattern matches every key written by PriceStore.
const KeyPattern = "price:*"

// KeyUnitPrice is the cache key of an item's price under a tier.
func KeyUnitPrice(itemID, tierID uuid.UUID) string {
	return "price:unit:" + itemID.String() + ":" + tierID.String()
}

// KeyOverride is the cache key of a customer's special price for an item at an
// order quantity.
func KeyOverride(customerID, itemID uuid.UUID, quantity int) string {
	return "price:override:" + customerID.String() + ":" + itemID.String() + ":" + strconv.Itoa(quantity)
}

// Source is the store behind PriceStore. The Next*Start lookups report when a record
// resolved at some instant may be superseded by one starting later.
type Source interface {
	pricing.PriceStore
	NextUnitPriceStart(ctx context.Context, itemID, tierID uuid.UUID, after time.Time) (*time.Time, error)
	NextOverrideStart(ctx context.Context, customerID, itemID uuid.UUID, after time.Time) (*time.Time, error)
}

// PriceStore is a read-through Redis cache in front of a Source.
// Each entry records the instant it was resolved for and the next start of a competing
// record; it answers only for instants in between, and only while the record itself is
// valid. Redis failures fall back to Next.
type PriceStore struct {
	Next   Source
	Cache  *JSON
	Now    func() time.Time
	Logger zerolog.Logger
}

var _ pricing.PriceStore = (*PriceStore)(nil)

// entry is a cached record and the span of instants [From, Until) it answers for.
type entry[T any] struct {
	Record T          `json:"record"`
	From   time.Time  `json:"from"`
	Until  *time.Time `json:"until,omitempty"`
}

func (e entry[T]) covers(t time.Time) bool {
	return !t.Before(e.From) && (e.Until == nil || t.Before(*e.Until))
}

// NewPriceStore wraps next with cache.
func NewPriceStore(next Source, cache *JSON, logger zerolog.Logger) *PriceStore {
	return &PriceStore{Next: next, Cache: cache, Now: time.Now, Logger: logger}
}

func (s *PriceStore) FindActiveUnitPrice(ctx context.Context, itemID, tierID uuid.UUID, asOf time.Time) (pricing.UnitPrice, error) {
	key := KeyUnitPrice(itemID, tierID)
	var cached entry[pricing.UnitPrice]
	if s.lookup(ctx, key, &cached) && cached.covers(asOf) && cached.Record.ValidAt(asOf) {
		return cached.Record, nil
	}
	price, err := s.Next.FindActiveUnitPrice(ctx, itemID, tierID, asOf)
	if err != nil {
		return pricing.UnitPrice{}, err
	}
	if !s.Cache.Enabled() {
		return price, nil
	}
	until, err := s.Next.NextUnitPriceStart(ctx, itemID, tierID, asOf)
	if err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("price cache window lookup failed")
		return price, nil
	}
	s.store(ctx, key, entry[pricing.UnitPrice]{Record: price, From: asOf, Until: until}, earliest(price.ExpiryDate, until))
	return price, nil
}

func (s *PriceStore) FindActiveCustomerOverride(ctx context.Context, customerID, itemID uuid.UUID, quantity int, asOf time.Time) (pricing.CustomerPriceOverride, error) {
	key := KeyOverride(customerID, itemID, quantity)
	var cached entry[pricing.CustomerPriceOverride]
	if s.lookup(ctx, key, &cached) && cached.covers(asOf) && cached.Record.ValidAt(asOf) && cached.Record.Admits(quantity) {
		return cached.Record, nil
	}
	o, err := s.Next.FindActiveCustomerOverride(ctx, customerID, itemID, quantity, asOf)
	if err != nil {
		return pricing.CustomerPriceOverride{}, err
	}
	if !s.Cache.Enabled() {
		return o, nil
	}
	until, err := s.Next.NextOverrideStart(ctx, customerID, itemID, asOf)
	if err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("price cache window lookup failed")
		return o, nil
	}
	s.store(ctx, key, entry[pricing.CustomerPriceOverride]{Record: o, From: asOf, Until: until}, earliest(o.ExpiryDate, until))
	return o, nil
}

func (s *PriceStore) lookup(ctx context.Context, key string, dst any) bool {
	if !s.Cache.Enabled() {
		return false
	}
	ok, err := s.Cache.Get(ctx, key, dst)
	switch {
	case err != nil:
		s.Logger.Warn().Err(err).Str("key", key).Msg("price cache read failed")
		observe("error")
		return false
	case ok:
		observe("hit")
	default:
		observe("miss")
	}
	return ok
}

func (s *PriceStore) store(ctx context.Context, key string, v any, expiry *time.Time) {
	if !s.Cache.Enabled() {
		return
	}
	var ttl time.Duration
	if expiry != nil {
		ttl = expiry.Sub(s.now())
		if ttl <= 0 {
			return
		}
	}
	if err := s.Cache.Set(ctx, key, v, ttl); err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("price cache write failed")
	}
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil || (b != nil && b.Before(*a)) {
		return b
	}
	return a
}

func (s *PriceStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func observe(result string) {
	if obs.PriceCacheTotal != nil {
		obs.PriceCacheTotal.WithLabelValues(result).Inc()
	}
}
