package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/common"
	"github.com/noah-isme/backend-pricing/internal/health"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/ratelimit"
	"github.com/noah-isme/backend-pricing/internal/security"
	"github.com/noah-isme/backend-pricing/internal/usage"
)

// RouterConfig collects what the HTTP surface needs.
type RouterConfig struct {
	Service        string
	Logger         zerolog.Logger
	Pricer         pricing.Pricer
	MinMarginPct   decimal.Decimal
	Usage          usage.Submitter
	Redis          *redis.Client
	Health         health.Checker
	StoreTimeout   time.Duration
	RedisTimeout   time.Duration
	HTTPMetrics    *obs.HTTPMetrics
	Metrics        http.Handler
	Tracing        bool
	CORSOrigins    []string
	RateWindow     time.Duration
	RateMax        int
	IdempotencyTTL time.Duration
	Headers        security.Headers
	MaxBodyBytes   int64
}

// NewRouter assembles the chi router.
func NewRouter(c RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if c.Tracing {
		r.Use(obs.Tracing(c.Service))
	}
	if c.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: c.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: c.Logger}.Middleware)
	r.Use(c.Headers.Middleware)
	r.Use(security.BodyLimit{Max: c.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(c.CORSOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if c.Metrics != nil {
		r.Handle("/metrics", c.Metrics)
	}

	healthHandler := health.Handler{
		Checker:      c.Health,
		StoreTimeout: c.StoreTimeout,
		RedisTimeout: c.RedisTimeout,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	limiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: c.Redis, Prefix: "ratelimit:"},
		Config: ratelimit.Config{
			Key:    ratelimit.KeyByClientIP("pricing"),
			Window: c.RateWindow,
			Max:    c.RateMax,
		},
		OnError: func(err error) {
			c.Logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}
	idem := common.Idem{R: c.Redis, TTL: c.IdempotencyTTL}
	usageHandler := usage.Handler{Submitter: c.Usage}

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/pricing", func(p chi.Router) {
			p.Use(limiter.Middleware)
			pricing.NewHandler(c.Pricer, c.MinMarginPct).Routes(p)
		})
		v.With(idem.Middleware).Post("/orders/{orderId}/usage", usageHandler.Confirm)
	})
	return r
}

// MetricsHandler is the default Prometheus exposition handler.
func MetricsHandler() http.Handler { return promhttp.Handler() }

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
