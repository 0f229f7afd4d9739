package pricing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func newTestRouter(s *stubStore) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/pricing", NewHandler(newTestCalculator(s), decimal.Zero).Routes)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCalculateHandlerRendersAmounts(t *testing.T) {
	h := newTestRouter(exampleStore())
	body := `{"tierId":"` + tierRetail.String() + `","discountCode":"SAVE10","lines":[` +
		`{"itemId":"` + itemA.String() + `","quantity":2},{"itemId":"` + itemB.String() + `","quantity":1}]}`

	rr := post(t, h, "/api/v1/pricing/calculate", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Data resultDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "130.00", resp.Data.Subtotal)
	require.Equal(t, "13.00", resp.Data.DiscountAmount)
	require.Equal(t, "16.00", resp.Data.TaxAmount)
	require.Equal(t, "133.00", resp.Data.Total)
	require.Len(t, resp.Data.Lines, 2)
	require.Equal(t, "10.00", resp.Data.Lines[0].DiscountAllocation)
	require.Equal(t, "TIER", resp.Data.Lines[0].Source)
	require.NotNil(t, resp.Data.Discount)
	require.Equal(t, "SAVE10", resp.Data.Discount.Code)
}

func TestCalculateHandlerValidation(t *testing.T) {
	s := exampleStore()
	h := newTestRouter(s)

	cases := map[string]string{
		"missing lines": `{"tierId":"` + tierRetail.String() + `","lines":[]}`,
		"bad tier":      `{"tierId":"nope","lines":[{"itemId":"` + itemA.String() + `","quantity":1}]}`,
		"zero quantity": `{"tierId":"` + tierRetail.String() + `","lines":[{"itemId":"` + itemA.String() + `","quantity":0}]}`,
	}
	for name, body := range cases {
		rr := post(t, h, "/api/v1/pricing/calculate", body)
		require.Equal(t, http.StatusBadRequest, rr.Code, name)
		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), name)
		require.Equal(t, "VALIDATION_ERROR", env.Error.Code, name)
	}

	rr := post(t, h, "/api/v1/pricing/calculate", `{"tierId":"`+tierRetail.String()+`","lines":[{"itemId":"`+itemA.String()+`","quantity":0}]}`)
	require.Contains(t, string(rr.Body.Bytes()), "lines[0].quantity")
	require.Zero(t, s.reads)
}

func TestCalculateHandlerErrorMapping(t *testing.T) {
	s := exampleStore()
	s.promotions["GONE"] = expiredPromotion("GONE")
	h := newTestRouter(s)

	line := func(id string) string { return `{"itemId":"` + id + `","quantity":1}` }
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"unknown item", `{"tierId":"` + tierRetail.String() + `","lines":[` + line(itemC.String()) + `]}`, http.StatusNotFound, CodePriceNotFound},
		{"unknown discount", `{"tierId":"` + tierRetail.String() + `","discountCode":"NOPE","lines":[` + line(itemA.String()) + `]}`, http.StatusUnprocessableEntity, CodeInvalidDiscount},
		{"expired promotion", `{"tierId":"` + tierRetail.String() + `","promotionCode":"GONE","lines":[` + line(itemA.String()) + `]}`, http.StatusUnprocessableEntity, CodePromotionExpired},
		{"malformed json", `{"tierId":`, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown field", `{"tierId":"` + tierRetail.String() + `","bogus":1,"lines":[` + line(itemA.String()) + `]}`, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		rr := post(t, h, "/api/v1/pricing/calculate", tc.body)
		require.Equal(t, tc.status, rr.Code, tc.name)
		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), tc.name)
		require.Equal(t, tc.code, env.Error.Code, tc.name)
	}
}

func TestMarginHandler(t *testing.T) {
	h := newTestRouter(exampleStore())
	rr := post(t, h, "/api/v1/pricing/margin", `{"sellingPrice":"120.00","costPrice":"100.00","targetMarginPct":"30","minimumMarginPct":"25"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "20.00", resp.Data["profitAmount"])
	require.Equal(t, "20.00", resp.Data["profitMarginPct"])
	require.Equal(t, "16.67", resp.Data["markupPct"])
	require.Equal(t, "130.00", resp.Data["targetPrice"])
	require.Equal(t, false, resp.Data["meetsMinimum"])
}

func TestMarginHandlerRejectsNegativeCost(t *testing.T) {
	h := newTestRouter(exampleStore())
	rr := post(t, h, "/api/v1/pricing/margin", `{"sellingPrice":"10","costPrice":"-1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "costPrice")
}
