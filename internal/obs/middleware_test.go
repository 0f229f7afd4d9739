package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("pricing", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/calculate", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/pricing/calculate"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}
	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/pricing/calculate", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}
	if samples := testutil.CollectAndCount(metrics.ReqDur); samples == 0 {
		t.Fatalf("expected histogram sample")
	}
	if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
		t.Fatalf("expected no in-flight requests, got %v", val)
	}
}

func TestHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("pricing", nil, registry)
	second := obs.NewHTTPMetrics("pricing", nil, registry)
	if first.ReqTotal != second.ReqTotal {
		t.Fatalf("expected the second constructor to reuse the registered counter")
	}
}

func TestRoutePatternFromChi(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(obs.RoutePatternMiddleware)
	r.Get("/prices/{itemID}", func(w http.ResponseWriter, req *http.Request) {
		seen = obs.RoutePatternFromContext(req.Context())
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/prices/abc", nil))
	if seen != "/prices/{itemID}" {
		t.Fatalf("expected route pattern, got %q", seen)
	}
}

func TestRequestLoggerWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := obs.RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("{}"))
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/calculate", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["status"] != float64(http.StatusUnprocessableEntity) || line["message"] != "http_request" {
		t.Fatalf("unexpected log line %v", line)
	}
	if line["client_ip"] != "10.0.0.9" {
		t.Fatalf("expected client ip, got %v", line["client_ip"])
	}
	if line["bytes"] != float64(2) {
		t.Fatalf("expected 2 bytes, got %v", line["bytes"])
	}
}

func TestParseBucketsCSV(t *testing.T) {
	got := obs.ParseBucketsCSV(" 5, x, -1, 10 ,,25")
	want := []float64{5, 10, 25}
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v got %v", want, got)
		}
	}
	if obs.ParseBucketsCSV("") != nil {
		t.Fatalf("expected nil for empty csv")
	}
}

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("pricing_test", registry)
	obs.MustRegisterDomainMetrics("pricing_test", registry)
	if obs.PricingCalculationsTotal == nil || obs.UsageSettlementsTotal == nil || obs.PriceCacheTotal == nil {
		t.Fatalf("expected domain collectors to be initialised")
	}
	obs.PricingCalculationsTotal.WithLabelValues("ok").Inc()
	if v := testutil.ToFloat64(obs.PricingCalculationsTotal.WithLabelValues("ok")); v < 1 {
		t.Fatalf("expected counter increment, got %v", v)
	}
}
