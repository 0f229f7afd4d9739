package promotion

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/money"
)

var (
	// ErrInactive is returned when the promotion status is not ACTIVE.
	ErrInactive = errors.New("promotion not active")
	// ErrNotStarted is returned before the promotion start date.
	ErrNotStarted = errors.New("promotion not started")
	// ErrExpired is returned after the promotion end date.
	ErrExpired = errors.New("promotion expired")
	// ErrUsageLimitReached indicates the promotion has exhausted the global usage quota.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
	// ErrPerCustomerLimitReached indicates the customer has used the promotion too many times.
	ErrPerCustomerLimitReached = errors.New("promotion per-customer limit reached")
	// ErrMinimumPurchaseUnmet indicates the subtotal is below the configured minimum.
	ErrMinimumPurchaseUnmet = errors.New("promotion minimum purchase not met")
	// ErrConditionUnmet is returned when the promotion condition evaluates falsy.
	ErrConditionUnmet = errors.New("promotion condition not met")
)

// Type enumerates the promotion mechanics.
type Type string

const (
	TypePercentage Type = "PERCENTAGE"
	TypeFixed      Type = "FIXED"
	TypeBuyXGetY   Type = "BUY_X_GET_Y"
	TypeBundle     Type = "BUNDLE"
)

// LineLevel reports whether the type acts on individual order lines.
func (t Type) LineLevel() bool {
	return t == TypeBuyXGetY || t == TypeBundle
}

// Status of a promotion record.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Role of an item inside a promotion.
type Role string

const (
	RoleBuy    Role = "BUY"
	RoleGet    Role = "GET"
	RoleBundle Role = "BUNDLE"
)

// Line binds an item to a role within a promotion.
type Line struct {
	ItemID             uuid.UUID
	Role               Role
	RequiredQuantity   int
	SpecialPrice       *decimal.Decimal
	DiscountPercentage *decimal.Decimal
	IsRequired         bool
}

// Rule captures a promotion as evaluated by the engine.
type Rule struct {
	Code                  string
	Name                  string
	Type                  Type
	Status                Status
	StartDate             *time.Time
	EndDate               *time.Time
	BuyQuantity           int
	GetQuantity           int
	GetDiscountPercentage *decimal.Decimal
	BundlePrice           *decimal.Decimal
	DiscountAmount        *decimal.Decimal
	DiscountPercentage    *decimal.Decimal
	MinPurchaseAmount     *decimal.Decimal
	MaxDiscountAmount     *decimal.Decimal
	UsageLimit            *int32
	UsageCount            int32
	PerCustomerLimit      *int32
	CustomerUsage         int64
	Priority              int
	IsCumulative          bool
	Lines                 []Line
	Condition             json.RawMessage
}

// LineItem is a priced order line.
type LineItem struct {
	ItemID    uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Order is the context a promotion is evaluated against.
type Order struct {
	Now        time.Time
	Subtotal   decimal.Decimal
	Items      []LineItem
	CustomerID *uuid.UUID
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

// Check validates the rule against the order. Only the minimum purchase amount is
// enforced at order level; the optional condition must evaluate truthy.
func Check(r Rule, o Order) error {
	if err := r.Active(o.Now); err != nil {
		return err
	}
	if r.PerCustomerLimit != nil && *r.PerCustomerLimit > 0 && r.CustomerUsage >= int64(*r.PerCustomerLimit) {
		return ErrPerCustomerLimitReached
	}
	if r.MinPurchaseAmount != nil && o.Subtotal.LessThan(*r.MinPurchaseAmount) {
		return ErrMinimumPurchaseUnmet
	}
	if len(r.Condition) > 0 {
		ok, err := EvaluateCondition(r.Condition, FactsFor(o))
		if err != nil {
			return errors.Join(ErrConditionUnmet, err)
		}
		if !ok {
			return ErrConditionUnmet
		}
	}
	return nil
}

// Applicable is the boolean form of Check.
func Applicable(r Rule, o Order) bool {
	return Check(r, o) == nil
}

// Amount computes the order-level reduction for subtotal. Line-level types without a
// percentage or fixed amount yield zero here; see LineAmount.
func Amount(r Rule, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return money.Zero
	}
	var amount decimal.Decimal
	switch {
	case r.DiscountPercentage != nil && r.DiscountPercentage.IsPositive():
		amount = money.Percent(subtotal, *r.DiscountPercentage)
	case r.DiscountAmount != nil && r.DiscountAmount.IsPositive():
		amount = *r.DiscountAmount
	default:
		return money.Zero
	}
	return capAmount(r, amount, subtotal)
}

// Compute returns the reduction the rule grants to the order, combining the
// order-level amount with line-level effects for BUY_X_GET_Y and BUNDLE.
func Compute(r Rule, o Order) decimal.Decimal {
	amount := Amount(r, o.Subtotal)
	if amount.IsZero() && r.Type.LineLevel() {
		amount = capAmount(r, LineAmount(r, o.Items), o.Subtotal)
	}
	return amount
}

func capAmount(r Rule, amount, subtotal decimal.Decimal) decimal.Decimal {
	if r.MaxDiscountAmount != nil && amount.GreaterThan(*r.MaxDiscountAmount) {
		amount = *r.MaxDiscountAmount
	}
	return money.Clamp(money.Round(amount), money.Zero, money.Max(subtotal, money.Zero))
}
