package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gofrs/uuid/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"cors-proxy-go/internal/cache"
	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/handler"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/middleware"
	"cors-proxy-go/internal/registry"
	"cors-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("cors-proxy"),
		kong.Description("CORS proxy with per-application keys and response caching."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newCacheStore,
			registry.New,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, logApplications, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(e, logger)

	e.Server.ReadTimeout = 30 * time.Second
	// Upstream fetches are bounded per application; the write side is left
	// unbounded so slow applications are not cut off by the server.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: func() string { return uuid.Must(uuid.NewV4()).String() },
	}))
	e.Use(middleware.RequestLogger(logger))
	var skip []string
	if cfg.Metrics.Enabled {
		skip = append(skip, cfg.Metrics.Path)
	}
	e.Use(middleware.MetricsMiddleware(m, skip...))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.StripHopByHop())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// newCacheStore connects to Redis when a cache store is configured. An
// unreachable store is not fatal: lookups fail open until it recovers.
func newCacheStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (cache.Store, error) {
	if !cfg.Cache.Enabled() {
		logger.Info("no cache store configured, response caching disabled")
		return cache.NopStore{}, nil
	}

	opts, err := cfg.Cache.RedisOptions()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warn("cache store unreachable, requests will bypass it", "addr", opts.Addr, "err", err)
				return nil
			}
			logger.Info("cache store connected", "addr", opts.Addr, "db", opts.DB)
			return nil
		},
		OnStop: func(_ context.Context) error {
			return rdb.Close()
		},
	})

	return cache.NewRedisStore(rdb), nil
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func logApplications(cfg *config.Config, reg *registry.Registry, logger *slog.Logger) {
	for _, app := range cfg.Applications {
		logger.Info("application loaded",
			"app", app.ID,
			"name", app.Name,
			"accept", app.Accept,
			"caching", app.CacheTimeout != nil && *app.CacheTimeout > 0,
		)
	}
	logger.Info("applications ready", "count", reg.Len())
}

func startServer(lc fx.Lifecycle, e *echo.Echo, svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			err := e.Shutdown(ctx)
			// Cache writes still in flight finish before the store closes.
			svc.Wait()
			return err
		},
	})
}
