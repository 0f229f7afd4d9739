package usage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyRecorded means the order already consumed this code.
	ErrAlreadyRecorded = errors.New("usage: already recorded for order")
	// ErrUsageExhausted means the code reached its usage limit.
	ErrUsageExhausted = errors.New("usage: limit exhausted")
	// ErrUnknownCode means no discount or promotion carries the code.
	ErrUnknownCode = errors.New("usage: unknown code")
)

// Store atomically records one use of a code by an order. Implementations must
// increment the usage counter at most once per (code, order) and never past the
// configured limit.
type Store interface {
	IncrementDiscountUsage(ctx context.Context, code string, orderID uuid.UUID, customerID *uuid.UUID) error
	IncrementPromotionUsage(ctx context.Context, code string, orderID uuid.UUID, customerID *uuid.UUID) error
}
