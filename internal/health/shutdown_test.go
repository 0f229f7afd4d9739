package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/health"
)

type noopChecker struct{ pings *int }

func (c noopChecker) PingStore(context.Context, time.Duration) error { return c.ping() }
func (c noopChecker) PingRedis(context.Context, time.Duration) error { return c.ping() }

func (c noopChecker) ping() error {
	*c.pings++
	return nil
}

func TestReadinessWhileDraining(t *testing.T) {
	var pings int
	handler := health.Handler{Checker: noopChecker{pings: &pings}}
	t.Cleanup(func() { health.SetReady(true) })

	require.True(t, health.IsReady())
	resp := httptest.NewRecorder()
	handler.Ready(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, 2, pings)

	health.SetReady(false)
	resp = httptest.NewRecorder()
	handler.Ready(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Contains(t, resp.Body.String(), "shutting down")
	require.Equal(t, 2, pings, "dependencies are not probed while draining")

	live := httptest.NewRecorder()
	handler.Live(live, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, live.Code)
}
