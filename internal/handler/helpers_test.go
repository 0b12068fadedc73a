package handler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/cache"
	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/registry"
	"cors-proxy-go/internal/service"
)

func intPtr(v int) *int { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testApps = []config.ApplicationConfig{
	{ID: "Open", Name: "Open app", Key: "open-key"},
	{ID: "Cached", Key: "cached-key", CacheTimeout: intPtr(60)},
	{ID: "Strict", Key: "strict-key", Accept: []string{"application/json"}},
	{ID: "Slow", Key: "slow-key", Timeout: 50},
}

type testServer struct {
	echo    *echo.Echo
	service *service.ProxyService
	metrics *metrics.Metrics
}

// newTestServer wires the full route table the way main does, backed by store.
func newTestServer(t *testing.T, cfg *config.Config, store cache.Store) *testServer {
	t.Helper()
	if cfg.Applications == nil {
		cfg.Applications = testApps
	}
	logger := testLogger()
	m := metrics.New()
	reg := registry.New(cfg)
	svc := service.NewProxyService(reg, store, client.NewUpstreamClient(logger, m), m, logger)

	e := echo.New()
	RegisterRoutes(e, cfg, m, NewProxyHandler(svc, logger), NewHealthHandler(cfg, reg, "test"))
	return &testServer{echo: e, service: svc, metrics: m}
}
