package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-pricing/internal/discount"
	"github.com/noah-isme/backend-pricing/internal/money"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/promotion"
)

const instrumentationName = "github.com/noah-isme/backend-pricing/internal/pricing"

// CalculatorConfig wires the calculator dependencies.
type CalculatorConfig struct {
	Prices         PriceStore
	Discounts      DiscountStore
	Promotions     PromotionStore
	AutoPromotions bool
	MinMarginPct   decimal.Decimal
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Calculator prices orders. It only reads from its stores and never mutates usage counters.
type Calculator struct {
	resolver       Resolver
	discounts      DiscountStore
	promotions     PromotionStore
	autoPromotions bool
	minMarginPct   decimal.Decimal
	now            func() time.Time
	logger         zerolog.Logger
	tracer         trace.Tracer
	candidates     metric.Int64Histogram
}

// NewCalculator validates cfg and builds a Calculator.
func NewCalculator(cfg CalculatorConfig) (*Calculator, error) {
	if cfg.Prices == nil {
		return nil, errors.New("pricing: price store is required")
	}
	if cfg.Discounts == nil {
		return nil, errors.New("pricing: discount store is required")
	}
	if cfg.Promotions == nil {
		return nil, errors.New("pricing: promotion store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	hist, err := otel.Meter(instrumentationName).Int64Histogram(
		"pricing.promotion.candidates",
		metric.WithDescription("Number of active promotions evaluated for automatic selection."),
	)
	if err != nil {
		return nil, fmt.Errorf("pricing: create candidates histogram: %w", err)
	}
	return &Calculator{
		resolver:       Resolver{Prices: cfg.Prices},
		discounts:      cfg.Discounts,
		promotions:     cfg.Promotions,
		autoPromotions: cfg.AutoPromotions,
		minMarginPct:   cfg.MinMarginPct,
		now:            now,
		logger:         cfg.Logger,
		tracer:         otel.Tracer(instrumentationName),
		candidates:     hist,
	}, nil
}

// Calculate prices req. Any failure aborts the whole calculation and no partial result
// is returned.
func (c *Calculator) Calculate(ctx context.Context, req Request) (CalculationResult, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "pricing.Calculate", trace.WithAttributes(
		attribute.Int("pricing.lines", len(req.Lines)),
		attribute.String("pricing.tier_id", req.TierID.String()),
		attribute.Bool("pricing.discount_code", strings.TrimSpace(req.DiscountCode) != ""),
		attribute.Bool("pricing.promotion_code", strings.TrimSpace(req.PromotionCode) != ""),
	))
	defer span.End()

	result, err := c.calculate(ctx, req)
	outcome := resultLabel(err)
	if obs.PricingCalculationsTotal != nil {
		obs.PricingCalculationsTotal.WithLabelValues(outcome).Inc()
	}
	if obs.PricingCalculationDuration != nil {
		obs.PricingCalculationDuration.Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		evt := c.logger.Warn()
		if outcome == "error" {
			evt = c.logger.Error()
		}
		evt.Err(err).Str("result", outcome).Int("lines", len(req.Lines)).Msg("pricing calculation rejected")
		return CalculationResult{}, err
	}
	span.SetAttributes(
		attribute.String("pricing.total", result.Total.StringFixed(2)),
		attribute.Int("pricing.promotions_applied", len(result.Promotions)),
	)
	c.logger.Debug().
		Str("subtotal", result.Subtotal.StringFixed(2)).
		Str("total", result.Total.StringFixed(2)).
		Int("lines", len(result.Lines)).
		Msg("pricing calculated")
	return result, nil
}

func (c *Calculator) calculate(ctx context.Context, req Request) (CalculationResult, error) {
	if err := Validate(req); err != nil {
		return CalculationResult{}, err
	}
	snap, err := c.LoadSnapshot(ctx, req)
	if err != nil {
		return CalculationResult{}, err
	}
	if len(snap.Candidates) > 0 {
		c.candidates.Record(ctx, int64(len(snap.Candidates)))
	}
	return c.Compute(req, snap)
}

// Validate rejects malformed requests before any store is read.
func Validate(req Request) error {
	if len(req.Lines) == 0 {
		return validationf("lines", "at least one line is required")
	}
	if req.TierID == uuid.Nil {
		return validationf("tierId", "tier is required")
	}
	for i, line := range req.Lines {
		if line.ItemID == uuid.Nil {
			return validationf(fmt.Sprintf("lines[%d].itemId", i), "item is required")
		}
		if line.Quantity <= 0 {
			return validationf(fmt.Sprintf("lines[%d].quantity", i), "quantity must be positive")
		}
	}
	return nil
}

// Compute is the pure part of a calculation: it derives the result from req and the
// records captured in snap without touching any store.
func (c *Calculator) Compute(req Request, snap Snapshot) (CalculationResult, error) {
	if len(snap.Prices) != len(req.Lines) {
		return CalculationResult{}, fmt.Errorf("pricing: snapshot has %d prices for %d lines", len(snap.Prices), len(req.Lines))
	}

	lines := make([]LineResult, len(req.Lines))
	subtotal, tax := money.Zero, money.Zero
	for i, line := range req.Lines {
		price := snap.Prices[i]
		qty := decimal.NewFromInt(int64(line.Quantity))
		lineTotal := money.Round(price.SellingPrice.Mul(qty))
		lineTax := money.Zero
		if price.IsTaxable {
			lineTax = money.Percent(lineTotal, price.TaxRate)
		}
		lines[i] = LineResult{
			ItemID:     line.ItemID,
			UOMID:      line.UOMID,
			CategoryID: line.CategoryID,
			Quantity:   line.Quantity,
			Source:     price.Source,
			UnitPrice:  price.SellingPrice,
			CostPrice:  price.CostPrice,
			LineTotal:  lineTotal,
			IsTaxable:  price.IsTaxable,
			TaxRate:    price.TaxRate,
			TaxAmount:  lineTax,
		}
		subtotal = subtotal.Add(lineTotal)
		tax = tax.Add(lineTax)
	}

	result := CalculationResult{
		Subtotal:        subtotal,
		DiscountAmount:  money.Zero,
		PromotionAmount: money.Zero,
		TaxAmount:       tax,
		AsOf:            snap.AsOf,
	}

	if snap.Discount != nil {
		applied, err := applyDiscount(*snap.Discount, lines, subtotal, snap.AsOf)
		if err != nil {
			return CalculationResult{}, err
		}
		result.Discount = &applied
		result.DiscountAmount = applied.Amount
	}

	order := promotion.Order{Now: snap.AsOf, Subtotal: subtotal, Items: promotionItems(lines), CustomerID: req.CustomerID}
	var chosen []promotion.Rule
	automatic := false
	switch {
	case snap.Promotion != nil:
		if err := promotion.Check(*snap.Promotion, order); err != nil {
			return CalculationResult{}, &PromotionExpiredError{Code: snap.Promotion.Code, Reason: err.Error(), Err: err}
		}
		chosen = []promotion.Rule{*snap.Promotion}
	case len(snap.Candidates) > 0 && (snap.Discount == nil || snap.Discount.IsCumulative):
		automatic = true
		chosen = promotion.Select(snap.Candidates, func(r promotion.Rule) bool {
			return promotion.Applicable(r, order) && promotion.Compute(r, order).IsPositive()
		})
	}

	remaining := subtotal.Sub(result.DiscountAmount)
	for _, r := range chosen {
		amount := money.Min(promotion.Compute(r, order), money.Max(remaining, money.Zero))
		remaining = remaining.Sub(amount)
		result.PromotionAmount = result.PromotionAmount.Add(amount)
		result.Promotions = append(result.Promotions, AppliedPromotion{
			Code:         r.Code,
			Name:         r.Name,
			Type:         string(r.Type),
			Priority:     r.Priority,
			IsCumulative: r.IsCumulative,
			Automatic:    automatic,
			Amount:       amount,
		})
	}

	result.Total = subtotal.Sub(result.DiscountAmount).Sub(result.PromotionAmount).Add(tax)
	if result.Total.LessThan(tax) {
		result.Total = tax
	}

	allocate(lines, subtotal, result.DiscountAmount, func(l *LineResult, share decimal.Decimal) { l.DiscountAllocation = share })
	allocate(lines, subtotal, result.PromotionAmount, func(l *LineResult, share decimal.Decimal) { l.PromotionAllocation = share })

	result.Margin = c.margins(lines, result)
	result.Lines = lines
	return result, nil
}

func applyDiscount(rule discount.Rule, lines []LineResult, subtotal decimal.Decimal, asOf time.Time) (AppliedDiscount, error) {
	if err := rule.Validate(asOf, subtotal); err != nil {
		return AppliedDiscount{}, &InvalidDiscountError{Code: rule.Code, Reason: err.Error(), Err: err}
	}
	items := make([]discount.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, discount.Item{ItemID: l.ItemID, CategoryID: l.CategoryID, Subtotal: l.LineTotal})
	}
	eligible := discount.EligibleSubtotal(items, rule)
	if !eligible.IsPositive() {
		return AppliedDiscount{}, &InvalidDiscountError{Code: rule.Code, Reason: discount.ErrNotEligible.Error(), Err: discount.ErrNotEligible}
	}
	return AppliedDiscount{
		Code:             rule.Code,
		Type:             string(rule.Type),
		Value:            rule.Value,
		EligibleSubtotal: eligible,
		Amount:           discount.Amount(rule, eligible),
		IsCumulative:     rule.IsCumulative,
	}, nil
}

func promotionItems(lines []LineResult) []promotion.LineItem {
	out := make([]promotion.LineItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, promotion.LineItem{
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}
	return out
}

// allocate spreads amount over lines in proportion to their share of subtotal using
// largest remainders: every share is first truncated to cents, then the leftover cents
// go to the lines with the largest truncated fractions. Shares sum to amount exactly
// and each lies between zero and its line total.
func allocate(lines []LineResult, subtotal, amount decimal.Decimal, set func(*LineResult, decimal.Decimal)) {
	if len(lines) == 0 {
		return
	}
	if !subtotal.IsPositive() || !amount.IsPositive() {
		for i := range lines {
			set(&lines[i], money.Zero)
		}
		return
	}
	shares := make([]decimal.Decimal, len(lines))
	fractions := make([]decimal.Decimal, len(lines))
	order := make([]int, len(lines))
	left := amount
	for i, l := range lines {
		exact := amount.Mul(l.LineTotal).Div(subtotal)
		shares[i] = exact.Truncate(money.Scale)
		fractions[i] = exact.Sub(shares[i])
		left = left.Sub(shares[i])
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fractions[order[a]].GreaterThan(fractions[order[b]])
	})
	for _, i := range order {
		if !left.IsPositive() {
			break
		}
		if shares[i].Add(money.Cent).GreaterThan(lines[i].LineTotal) {
			continue
		}
		shares[i] = shares[i].Add(money.Cent)
		left = left.Sub(money.Cent)
	}
	for i := range lines {
		set(&lines[i], shares[i])
	}
}

func (c *Calculator) margins(lines []LineResult, result CalculationResult) MarginSummary {
	totalCost := money.Zero
	var below []uuid.UUID
	for i := range lines {
		l := &lines[i]
		l.Margin = CalculateMargin(l.UnitPrice, l.CostPrice)
		if c.minMarginPct.IsPositive() && l.CostPrice.IsPositive() && !MeetsMinimumMargin(l.UnitPrice, l.CostPrice, c.minMarginPct) {
			l.BelowMinimumMargin = true
			below = append(below, l.ItemID)
		}
		totalCost = totalCost.Add(money.Round(l.CostPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))))
	}
	net := result.Subtotal.Sub(result.DiscountAmount).Sub(result.PromotionAmount)
	m := CalculateMargin(net, totalCost)
	return MarginSummary{
		NetRevenue:       m.SellingPrice,
		TotalCost:        m.CostPrice,
		ProfitAmount:     m.ProfitAmount,
		ProfitMarginPct:  m.ProfitMarginPct,
		MarkupPct:        m.MarkupPct,
		MinimumMarginPct: c.minMarginPct,
		BelowMinimum:     below,
	}
}

func (c *Calculator) asOf(req Request) time.Time {
	if req.AsOf != nil && !req.AsOf.IsZero() {
		return *req.AsOf
	}
	return c.now()
}

func (c *Calculator) autoEnabled(req Request) bool {
	return req.AutoPromotions || c.autoPromotions
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
