package usage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu      sync.Mutex
	limits  map[string]int
	counts  map[string]int
	orders  map[string]struct{}
	failing error
}

func newFakeStore() *fakeStore {
	return &fakeStore{limits: map[string]int{}, counts: map[string]int{}, orders: map[string]struct{}{}}
}

func (f *fakeStore) add(kind, code string, limit int) {
	f.limits[kind+":"+code] = limit
}

func (f *fakeStore) count(kind, code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[kind+":"+code]
}

func (f *fakeStore) inc(kind, code string, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing != nil {
		return f.failing
	}
	key := kind + ":" + code
	limit, ok := f.limits[key]
	if !ok {
		return ErrUnknownCode
	}
	if _, done := f.orders[key+":"+orderID.String()]; done {
		return ErrAlreadyRecorded
	}
	if limit > 0 && f.counts[key] >= limit {
		return ErrUsageExhausted
	}
	f.orders[key+":"+orderID.String()] = struct{}{}
	f.counts[key]++
	return nil
}

func (f *fakeStore) IncrementDiscountUsage(_ context.Context, code string, orderID uuid.UUID, _ *uuid.UUID) error {
	return f.inc(KindDiscount, code, orderID)
}

func (f *fakeStore) IncrementPromotionUsage(_ context.Context, code string, orderID uuid.UUID, _ *uuid.UUID) error {
	return f.inc(KindPromotion, code, orderID)
}
