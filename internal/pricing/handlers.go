package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/common"
)

// Error codes rendered by the pricing endpoints.
const (
	CodePriceNotFound    = "PRICE_NOT_FOUND"
	CodeInvalidDiscount  = "INVALID_DISCOUNT"
	CodePromotionExpired = "PROMOTION_EXPIRED"
)

// Pricer is the calculation entry point used by the HTTP layer.
type Pricer interface {
	Calculate(ctx context.Context, req Request) (CalculationResult, error)
}

// Handler exposes price calculation and margin endpoints.
type Handler struct {
	Pricer       Pricer
	Validate     *validator.Validate
	MinMarginPct decimal.Decimal
}

// NewHandler builds a Handler with a validator that reports JSON field names.
func NewHandler(p Pricer, minMarginPct decimal.Decimal) *Handler {
	return &Handler{Pricer: p, Validate: NewValidator(), MinMarginPct: minMarginPct}
}

// NewValidator returns a validator configured for pricing payloads.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Routes mounts the pricing endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/calculate", h.Calculate)
	r.Post("/margin", h.Margin)
}

type calculateRequest struct {
	Lines          []calculateLine `json:"lines" validate:"required,min=1,dive"`
	TierID         string          `json:"tierId" validate:"required,uuid"`
	CustomerID     *string         `json:"customerId" validate:"omitempty,uuid"`
	DiscountCode   string          `json:"discountCode" validate:"omitempty,max=64"`
	PromotionCode  string          `json:"promotionCode" validate:"omitempty,max=64"`
	AutoPromotions bool            `json:"autoPromotions"`
	AsOf           *time.Time      `json:"asOf"`
}

type calculateLine struct {
	ItemID     string  `json:"itemId" validate:"required,uuid"`
	Quantity   int     `json:"quantity" validate:"gt=0"`
	UOMID      string  `json:"uomId" validate:"omitempty,uuid"`
	CategoryID *string `json:"categoryId" validate:"omitempty,uuid"`
}

type marginRequest struct {
	SellingPrice     decimal.Decimal  `json:"sellingPrice" validate:"gte=0"`
	CostPrice        decimal.Decimal  `json:"costPrice" validate:"gte=0"`
	TargetMarginPct  *decimal.Decimal `json:"targetMarginPct" validate:"omitempty,gte=0"`
	MinimumMarginPct *decimal.Decimal `json:"minimumMarginPct" validate:"omitempty,gte=0"`
}

// Calculate handles POST /calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if h.Pricer == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "pricing not configured", nil)
		return
	}
	var payload calculateRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.validator().Struct(payload); err != nil {
		common.WriteError(w, validationAppError(err))
		return
	}
	req, err := payload.toRequest()
	if err != nil {
		common.WriteError(w, AppErrorFor(err))
		return
	}
	result, err := h.Pricer.Calculate(r.Context(), req)
	if err != nil {
		common.WriteError(w, AppErrorFor(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newResultDTO(result)})
}

// Margin handles POST /margin.
func (h *Handler) Margin(w http.ResponseWriter, r *http.Request) {
	var payload marginRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.validator().Struct(payload); err != nil {
		common.WriteError(w, validationAppError(err))
		return
	}
	m := CalculateMargin(payload.SellingPrice, payload.CostPrice)
	out := map[string]any{
		"sellingPrice":    amount(m.SellingPrice),
		"costPrice":       amount(m.CostPrice),
		"profitAmount":    amount(m.ProfitAmount),
		"profitMarginPct": amount(m.ProfitMarginPct),
		"markupPct":       amount(m.MarkupPct),
		"breakEvenPrice":  amount(m.BreakEvenPrice),
	}
	if payload.TargetMarginPct != nil {
		out["targetPrice"] = amount(TargetPrice(payload.CostPrice, *payload.TargetMarginPct))
	}
	minimum := h.MinMarginPct
	if payload.MinimumMarginPct != nil {
		minimum = *payload.MinimumMarginPct
	}
	if payload.MinimumMarginPct != nil || minimum.IsPositive() {
		out["minimumMarginPct"] = amount(minimum)
		out["meetsMinimum"] = MeetsMinimumMargin(payload.SellingPrice, payload.CostPrice, minimum)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate == nil {
		h.Validate = NewValidator()
	}
	return h.Validate
}

func (p calculateRequest) toRequest() (Request, error) {
	req := Request{
		DiscountCode:   strings.TrimSpace(p.DiscountCode),
		PromotionCode:  strings.TrimSpace(p.PromotionCode),
		AutoPromotions: p.AutoPromotions,
		AsOf:           p.AsOf,
		Lines:          make([]OrderLine, len(p.Lines)),
	}
	var err error
	if req.TierID, err = uuid.Parse(p.TierID); err != nil {
		return Request{}, validationf("tierId", "must be a valid uuid")
	}
	if p.CustomerID != nil {
		id, err := uuid.Parse(*p.CustomerID)
		if err != nil {
			return Request{}, validationf("customerId", "must be a valid uuid")
		}
		req.CustomerID = &id
	}
	for i, l := range p.Lines {
		line := OrderLine{Quantity: l.Quantity}
		if line.ItemID, err = uuid.Parse(l.ItemID); err != nil {
			return Request{}, validationf(fmt.Sprintf("lines[%d].itemId", i), "must be a valid uuid")
		}
		if l.UOMID != "" {
			if line.UOMID, err = uuid.Parse(l.UOMID); err != nil {
				return Request{}, validationf(fmt.Sprintf("lines[%d].uomId", i), "must be a valid uuid")
			}
		}
		if l.CategoryID != nil {
			id, err := uuid.Parse(*l.CategoryID)
			if err != nil {
				return Request{}, validationf(fmt.Sprintf("lines[%d].categoryId", i), "must be a valid uuid")
			}
			line.CategoryID = &id
		}
		req.Lines[i] = line
	}
	return req, nil
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func validationAppError(err error) *common.AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.NewAppError(common.CodeValidation, err.Error(), http.StatusBadRequest, err)
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		details = append(details, fieldError{Field: ns, Rule: fe.Tag()})
	}
	return common.NewAppError(common.CodeValidation, "request validation failed", http.StatusBadRequest, err).WithDetails(details)
}

// AppErrorFor maps a calculation error onto the HTTP error taxonomy.
func AppErrorFor(err error) *common.AppError {
	var (
		validation *ValidationError
		expired    *PromotionExpiredError
		invalid    *InvalidDiscountError
		notFound   *PriceNotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return common.NewAppError(common.CodeValidation, validation.Error(), http.StatusBadRequest, err).
			WithDetails([]fieldError{{Field: validation.Field, Rule: validation.Message}})
	case errors.As(err, &expired):
		return common.NewAppError(CodePromotionExpired, expired.Error(), http.StatusUnprocessableEntity, err).
			WithDetails(map[string]string{"code": expired.Code, "reason": expired.Reason})
	case errors.As(err, &invalid):
		return common.NewAppError(CodeInvalidDiscount, invalid.Error(), http.StatusUnprocessableEntity, err).
			WithDetails(map[string]string{"code": invalid.Code, "reason": invalid.Reason})
	case errors.As(err, &notFound):
		return common.NewAppError(CodePriceNotFound, notFound.Error(), http.StatusNotFound, err).
			WithDetails(map[string]string{"itemId": notFound.ItemID.String(), "tierId": notFound.TierID.String()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return common.NewAppError(common.CodeUnavailable, "calculation aborted", http.StatusServiceUnavailable, err)
	}
	return common.NewAppError(common.CodeInternal, "failed to calculate price", http.StatusInternalServerError, err)
}

func amount(d decimal.Decimal) string { return d.StringFixed(2) }

type lineDTO struct {
	ItemID              string    `json:"itemId"`
	UOMID               string    `json:"uomId,omitempty"`
	CategoryID          *string   `json:"categoryId,omitempty"`
	Quantity            int       `json:"quantity"`
	Source              string    `json:"source"`
	UnitPrice           string    `json:"unitPrice"`
	CostPrice           string    `json:"costPrice"`
	LineTotal           string    `json:"lineTotal"`
	IsTaxable           bool      `json:"isTaxable"`
	TaxRate             string    `json:"taxRate"`
	TaxAmount           string    `json:"taxAmount"`
	DiscountAllocation  string    `json:"discountAllocation"`
	PromotionAllocation string    `json:"promotionAllocation"`
	Margin              marginDTO `json:"margin"`
	BelowMinimumMargin  bool      `json:"belowMinimumMargin"`
}

type marginDTO struct {
	ProfitAmount    string `json:"profitAmount"`
	ProfitMarginPct string `json:"profitMarginPct"`
	MarkupPct       string `json:"markupPct"`
}

type discountDTO struct {
	Code             string `json:"code"`
	Type             string `json:"type"`
	Value            string `json:"value"`
	EligibleSubtotal string `json:"eligibleSubtotal"`
	Amount           string `json:"amount"`
	IsCumulative     bool   `json:"isCumulative"`
}

type promotionDTO struct {
	Code         string `json:"code"`
	Name         string `json:"name,omitempty"`
	Type         string `json:"type"`
	Priority     int    `json:"priority"`
	IsCumulative bool   `json:"isCumulative"`
	Automatic    bool   `json:"automatic"`
	Amount       string `json:"amount"`
}

type marginSummaryDTO struct {
	NetRevenue       string   `json:"netRevenue"`
	TotalCost        string   `json:"totalCost"`
	ProfitAmount     string   `json:"profitAmount"`
	ProfitMarginPct  string   `json:"profitMarginPct"`
	MarkupPct        string   `json:"markupPct"`
	MinimumMarginPct string   `json:"minimumMarginPct"`
	BelowMinimum     []string `json:"belowMinimum"`
}

type resultDTO struct {
	Subtotal        string           `json:"subtotal"`
	DiscountAmount  string           `json:"discountAmount"`
	PromotionAmount string           `json:"promotionAmount"`
	TaxAmount       string           `json:"taxAmount"`
	Total           string           `json:"total"`
	Lines           []lineDTO        `json:"lines"`
	Discount        *discountDTO     `json:"discount,omitempty"`
	Promotions      []promotionDTO   `json:"promotions"`
	Margin          marginSummaryDTO `json:"margin"`
	AsOf            time.Time        `json:"asOf"`
}

func newResultDTO(res CalculationResult) resultDTO {
	out := resultDTO{
		Subtotal:        amount(res.Subtotal),
		DiscountAmount:  amount(res.DiscountAmount),
		PromotionAmount: amount(res.PromotionAmount),
		TaxAmount:       amount(res.TaxAmount),
		Total:           amount(res.Total),
		Lines:           make([]lineDTO, len(res.Lines)),
		Promotions:      make([]promotionDTO, len(res.Promotions)),
		AsOf:            res.AsOf,
		Margin: marginSummaryDTO{
			NetRevenue:       amount(res.Margin.NetRevenue),
			TotalCost:        amount(res.Margin.TotalCost),
			ProfitAmount:     amount(res.Margin.ProfitAmount),
			ProfitMarginPct:  amount(res.Margin.ProfitMarginPct),
			MarkupPct:        amount(res.Margin.MarkupPct),
			MinimumMarginPct: amount(res.Margin.MinimumMarginPct),
			BelowMinimum:     make([]string, len(res.Margin.BelowMinimum)),
		},
	}
	for i, id := range res.Margin.BelowMinimum {
		out.Margin.BelowMinimum[i] = id.String()
	}
	for i, l := range res.Lines {
		dto := lineDTO{
			ItemID:              l.ItemID.String(),
			Quantity:            l.Quantity,
			Source:              string(l.Source),
			UnitPrice:           amount(l.UnitPrice),
			CostPrice:           amount(l.CostPrice),
			LineTotal:           amount(l.LineTotal),
			IsTaxable:           l.IsTaxable,
			TaxRate:             amount(l.TaxRate),
			TaxAmount:           amount(l.TaxAmount),
			DiscountAllocation:  amount(l.DiscountAllocation),
			PromotionAllocation: amount(l.PromotionAllocation),
			BelowMinimumMargin:  l.BelowMinimumMargin,
			Margin: marginDTO{
				ProfitAmount:    amount(l.Margin.ProfitAmount),
				ProfitMarginPct: amount(l.Margin.ProfitMarginPct),
				MarkupPct:       amount(l.Margin.MarkupPct),
			},
		}
		if l.UOMID != uuid.Nil {
			dto.UOMID = l.UOMID.String()
		}
		if l.CategoryID != nil {
			s := l.CategoryID.String()
			dto.CategoryID = &s
		}
		out.Lines[i] = dto
	}
	if d := res.Discount; d != nil {
		out.Discount = &discountDTO{
			Code:             d.Code,
			Type:             d.Type,
			Value:            amount(d.Value),
			EligibleSubtotal: amount(d.EligibleSubtotal),
			Amount:           amount(d.Amount),
			IsCumulative:     d.IsCumulative,
		}
	}
	for i, p := range res.Promotions {
		out.Promotions[i] = promotionDTO{
			Code:         p.Code,
			Name:         p.Name,
			Type:         p.Type,
			Priority:     p.Priority,
			IsCumulative: p.IsCumulative,
			Automatic:    p.Automatic,
			Amount:       amount(p.Amount),
		}
	}
	return out
}
