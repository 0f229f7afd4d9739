package usage

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-pricing/internal/common"
)

// Submitter accepts a confirmation for settlement, either inline or through the queue.
type Submitter interface {
	Submit(ctx context.Context, c Confirmation) (duplicate bool, err error)
}

// Handler exposes the order usage confirmation endpoint.
type Handler struct {
	Submitter Submitter
}

type confirmRequest struct {
	CustomerID     *uuid.UUID `json:"customerId"`
	DiscountCode   string     `json:"discountCode"`
	PromotionCodes []string   `json:"promotionCodes"`
}

// Confirm handles POST /orders/{orderId}/usage.
func (h Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if h.Submitter == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "usage settlement not configured", nil)
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "orderId must be a valid uuid", nil)
		return
	}
	var payload confirmRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	c := Confirmation{
		OrderID:        orderID,
		CustomerID:     payload.CustomerID,
		DiscountCode:   strings.TrimSpace(payload.DiscountCode),
		PromotionCodes: payload.PromotionCodes,
	}
	if err := c.Validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	duplicate, err := h.Submitter.Submit(r.Context(), c)
	switch {
	case errors.Is(err, ErrUsageExhausted):
		common.JSONError(w, http.StatusConflict, "USAGE_EXHAUSTED", err.Error(), nil)
		return
	case errors.Is(err, ErrUnknownCode):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
		return
	case err != nil:
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeUnavailable, "failed to accept usage confirmation", nil)
		return
	}
	status := "accepted"
	if duplicate {
		status = "duplicate"
	}
	common.JSON(w, http.StatusAccepted, map[string]any{"data": map[string]string{
		"orderId": orderID.String(),
		"status":  status,
	}})
}
