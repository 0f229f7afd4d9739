package pricing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound marks a missing price, discount or promotion record.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks a discount or promotion that exists but cannot apply to the order.
	ErrInvalid = errors.New("invalid")
	// ErrExpired marks a record outside its validity window or with exhausted usage.
	ErrExpired = errors.New("expired")
	// ErrValidation marks malformed input such as a non-positive quantity or price.
	ErrValidation = errors.New("validation failed")
)

// PriceNotFoundError is returned when no unit price can be resolved for a line.
type PriceNotFoundError struct {
	ItemID uuid.UUID
	TierID uuid.UUID
}

func (e *PriceNotFoundError) Error() string {
	return fmt.Sprintf("price not found for item %s in tier %s", e.ItemID, e.TierID)
}

// Is reports the error kind.
func (e *PriceNotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidDiscountError is returned when a discount code is missing or not applicable.
type InvalidDiscountError struct {
	Code   string
	Reason string
	Err    error
}

func (e *InvalidDiscountError) Error() string {
	return fmt.Sprintf("invalid discount %q: %s", e.Code, e.Reason)
}

// Is reports the error kind.
func (e *InvalidDiscountError) Is(target error) bool { return target == ErrInvalid }

func (e *InvalidDiscountError) Unwrap() error { return e.Err }

// PromotionExpiredError is returned when a promotion code is missing, inactive or not applicable.
type PromotionExpiredError struct {
	Code   string
	Reason string
	Err    error
}

func (e *PromotionExpiredError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("promotion %q expired", e.Code)
	}
	return fmt.Sprintf("promotion %q expired: %s", e.Code, e.Reason)
}

// Is reports the error kind.
func (e *PromotionExpiredError) Is(target error) bool { return target == ErrExpired }

func (e *PromotionExpiredError) Unwrap() error { return e.Err }

// ValidationError describes a rejected input field or stored value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is reports the error kind.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
