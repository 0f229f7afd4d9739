package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/obs"
)

// Kinds of settled codes.
const (
	KindDiscount  = "discount"
	KindPromotion = "promotion"
)

// Settlement outcomes.
const (
	ResultRecorded  = "recorded"
	ResultDuplicate = "duplicate"
	ResultExhausted = "exhausted"
	ResultUnknown   = "unknown"
	ResultError     = "error"
)

// Confirmation lists the codes a confirmed order consumed.
type Confirmation struct {
	OrderID        uuid.UUID  `json:"orderId"`
	CustomerID     *uuid.UUID `json:"customerId,omitempty"`
	DiscountCode   string     `json:"discountCode,omitempty"`
	PromotionCodes []string   `json:"promotionCodes,omitempty"`
}

// Validate checks the confirmation carries an order and at least one code.
func (c Confirmation) Validate() error {
	if c.OrderID == uuid.Nil {
		return errors.New("usage: order id is required")
	}
	if strings.TrimSpace(c.DiscountCode) == "" && len(c.codes()) == 0 {
		return errors.New("usage: no codes to confirm")
	}
	return nil
}

func (c Confirmation) codes() []string {
	seen := make(map[string]struct{}, len(c.PromotionCodes))
	out := make([]string, 0, len(c.PromotionCodes))
	for _, code := range c.PromotionCodes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// Settlement is the outcome of one code increment.
type Settlement struct {
	Kind   string `json:"kind"`
	Code   string `json:"code"`
	Result string `json:"result"`
}

// Service confirms usage of discounts and promotions after an order is placed.
// It is the only writer of usage counters.
type Service struct {
	Store  Store
	Logger zerolog.Logger
}

// Confirm increments each code of c exactly once for the order. Codes already
// recorded for the order are skipped, so retries and duplicate deliveries are safe.
// The first hard failure stops the run and is returned with the settlements so far.
func (s *Service) Confirm(ctx context.Context, c Confirmation) ([]Settlement, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("usage service not configured")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var out []Settlement
	if code := strings.TrimSpace(c.DiscountCode); code != "" {
		st, err := s.settle(ctx, KindDiscount, code, c, s.Store.IncrementDiscountUsage)
		out = append(out, st)
		if err != nil {
			return out, err
		}
	}
	for _, code := range c.codes() {
		st, err := s.settle(ctx, KindPromotion, code, c, s.Store.IncrementPromotionUsage)
		out = append(out, st)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Submit confirms c inline. It reports whether the order had already been settled.
func (s *Service) Submit(ctx context.Context, c Confirmation) (bool, error) {
	settled, err := s.Confirm(ctx, c)
	if err != nil {
		return false, err
	}
	for _, st := range settled {
		if st.Result != ResultDuplicate {
			return false, nil
		}
	}
	return true, nil
}

type incrementFunc func(ctx context.Context, code string, orderID uuid.UUID, customerID *uuid.UUID) error

func (s *Service) settle(ctx context.Context, kind, code string, c Confirmation, inc incrementFunc) (Settlement, error) {
	st := Settlement{Kind: kind, Code: code, Result: ResultRecorded}
	err := inc(ctx, code, c.OrderID, c.CustomerID)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRecorded):
		st.Result = ResultDuplicate
		err = nil
	case errors.Is(err, ErrUsageExhausted):
		st.Result = ResultExhausted
	case errors.Is(err, ErrUnknownCode):
		st.Result = ResultUnknown
	default:
		st.Result = ResultError
	}
	if obs.UsageSettlementsTotal != nil {
		obs.UsageSettlementsTotal.WithLabelValues(kind, st.Result).Inc()
	}
	evt := s.Logger.Info()
	if err != nil {
		evt = s.Logger.Warn().Err(err)
	}
	evt.Str("order_id", c.OrderID.String()).Str("kind", kind).Str("code", code).Str("result", st.Result).Msg("usage settlement")
	if err != nil {
		return st, fmt.Errorf("settle %s %q: %w", kind, code, err)
	}
	return st, nil
}
