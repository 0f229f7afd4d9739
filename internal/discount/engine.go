package discount

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/money"
)

var (
	// ErrInactive is returned when the discount status is not ACTIVE.
	ErrInactive = errors.New("discount not active")
	// ErrNotStarted is returned before the discount start date.
	ErrNotStarted = errors.New("discount not started")
	// ErrExpired is returned after the discount end date.
	ErrExpired = errors.New("discount expired")
	// ErrUsageLimitReached indicates the discount has exhausted the global usage quota.
	ErrUsageLimitReached = errors.New("discount usage limit reached")
	// ErrPerCustomerLimitReached indicates the customer has used the discount too many times.
	ErrPerCustomerLimitReached = errors.New("discount per-customer limit reached")
	// ErrMinimumPurchaseUnmet indicates the subtotal is below the configured minimum.
	ErrMinimumPurchaseUnmet = errors.New("discount minimum purchase not met")
	// ErrMaximumPurchaseExceeded indicates the subtotal is above the configured maximum.
	ErrMaximumPurchaseExceeded = errors.New("discount maximum purchase exceeded")
	// ErrNotEligible is returned when no order line falls inside the discount scope.
	ErrNotEligible = errors.New("discount not eligible")
)

// Type enumerates how the discount value is interpreted.
type Type string

const (
	TypePercentage Type = "PERCENTAGE"
	TypeFixed      Type = "FIXED"
)

// Status of a discount or promotion record.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// IDSet is a set of identifiers used for discount scope.
type IDSet map[uuid.UUID]struct{}

// NewIDSet builds a set from the provided identifiers.
func NewIDSet(ids ...uuid.UUID) IDSet {
	if len(ids) == 0 {
		return nil
	}
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id is in the set.
func (s IDSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// Slice returns the members in no particular order.
func (s IDSet) Slice() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Rule captures the runtime constraints of a discount code.
type Rule struct {
	Code              string
	Type              Type
	Value             decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	MinPurchaseAmount *decimal.Decimal
	MaxPurchaseAmount *decimal.Decimal
	StartDate         *time.Time
	EndDate           *time.Time
	UsageLimit        *int32
	UsageCount        int32
	PerCustomerLimit  *int32
	CustomerUsage     int64
	IsCumulative      bool
	Status            Status
	ItemIDs           IDSet
	CategoryIDs       IDSet
}

// Item is an order line as seen by the discount scope check.
type Item struct {
	ItemID     uuid.UUID
	CategoryID *uuid.UUID
	Subtotal   decimal.Decimal
}

// Active reports whether the rule is usable at now regardless of the order.
func (r Rule) Active(now time.Time) error {
	if r.Status != StatusActive {
		return ErrInactive
	}
	if r.StartDate != nil && now.Before(*r.StartDate) {
		return ErrNotStarted
	}
	if r.EndDate != nil && now.After(*r.EndDate) {
		return ErrExpired
	}
	if r.UsageLimit != nil && r.UsageCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}

// Validate ensures the rule can be applied at the provided instant and order subtotal.
func (r Rule) Validate(now time.Time, subtotal decimal.Decimal) error {
	if err := r.Active(now); err != nil {
		return err
	}
	if r.PerCustomerLimit != nil && *r.PerCustomerLimit > 0 && r.CustomerUsage >= int64(*r.PerCustomerLimit) {
		return ErrPerCustomerLimitReached
	}
	if r.MinPurchaseAmount != nil && subtotal.LessThan(*r.MinPurchaseAmount) {
		return ErrMinimumPurchaseUnmet
	}
	if r.MaxPurchaseAmount != nil && subtotal.GreaterThan(*r.MaxPurchaseAmount) {
		return ErrMaximumPurchaseExceeded
	}
	return nil
}

// Applicable is the boolean form of Validate.
func (r Rule) Applicable(now time.Time, subtotal decimal.Decimal) bool {
	return r.Validate(now, subtotal) == nil
}

// Scoped reports whether the rule is restricted to specific items or categories.
func (r Rule) Scoped() bool {
	return len(r.ItemIDs) > 0 || len(r.CategoryIDs) > 0
}

// EligibleSubtotal sums the lines that fall inside the rule's scope.
func EligibleSubtotal(items []Item, r Rule) decimal.Decimal {
	total := money.Zero
	for _, it := range items {
		if !it.Subtotal.IsPositive() {
			continue
		}
		if !r.Scoped() || ruleMatchesItem(r, it) {
			total = total.Add(it.Subtotal)
		}
	}
	return total
}

func ruleMatchesItem(r Rule, it Item) bool {
	if r.ItemIDs.Has(it.ItemID) {
		return true
	}
	if it.CategoryID != nil && r.CategoryIDs.Has(*it.CategoryID) {
		return true
	}
	return false
}

// Amount computes the discount for subtotal. The result is rounded half-up to two
// decimals and always lies in [0, subtotal].
func Amount(r Rule, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || !r.Value.IsPositive() {
		return money.Zero
	}
	var amount decimal.Decimal
	switch r.Type {
	case TypePercentage:
		amount = money.Percent(subtotal, r.Value)
		if r.MaxDiscountAmount != nil && amount.GreaterThan(*r.MaxDiscountAmount) {
			amount = *r.MaxDiscountAmount
		}
	case TypeFixed:
		amount = money.Min(r.Value, subtotal)
	default:
		return money.Zero
	}
	return money.Clamp(money.Round(amount), money.Zero, subtotal)
}
