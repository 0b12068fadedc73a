// Package service implements the request pipeline: authorize, apply the
// application's policy, consult the cache and fall back to the upstream.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"cors-proxy-go/internal/cache"
	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/registry"
)

// Client-visible failures. The messages are returned verbatim in the
// response body, so their wording is fixed.
var (
	ErrAPIKeyNotFound = errors.New("API key not found!")                     //nolint:staticcheck
	ErrMissingURI     = errors.New("Please provide an uri= GET paremeter!") //nolint:staticcheck
	ErrAcceptRequired = errors.New("Accept header is required!")            //nolint:staticcheck
	ErrInvalidAccept  = errors.New("Invalid Accept header!")                //nolint:staticcheck
)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	registry *registry.Registry
	store    cache.Store
	client   *client.UpstreamClient
	metrics  *metrics.Metrics
	logger   *slog.Logger

	pending sync.WaitGroup // in-flight cache writes
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(reg *registry.Registry, store cache.Store, c *client.UpstreamClient, m *metrics.Metrics, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		registry: reg,
		store:    store,
		client:   c,
		metrics:  m,
		logger:   logger.With("component", "proxy_service"),
	}
}

// Forward runs one request through the pipeline. A cache hit returns the
// stored response; otherwise the target is fetched, its headers sanitized,
// and for cacheable requests the result is written to the store in the
// background. Errors are one of the Err* values above or a *client.FetchError.
func (s *ProxyService) Forward(ctx context.Context, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	app, ok := s.registry.Lookup(pr.APIKey)
	if !ok {
		return nil, ErrAPIKeyNotFound
	}
	if pr.TargetURL == "" {
		return nil, ErrMissingURI
	}
	if err := checkAccept(app.Accept, pr.Accept); err != nil {
		return nil, fmt.Errorf("app %s: %w", app.ID, err)
	}

	logger := s.logger.With("app", app.ID)
	logger.Info("proxying request",
		"method", pr.Method,
		"target", pr.TargetURL,
		"app_name", app.Name,
	)
	logger.Debug("request headers", "headers", pr.Header)

	useCache := app.CachingEnabled() && cacheable(pr.Method)
	var key string
	if useCache {
		key = cache.DeriveKey(app.ID, pr.TargetURL)
		if resp := s.lookup(ctx, logger, app, key, pr.RemoveHeaders); resp != nil {
			return resp, nil
		}
	}

	up, err := s.client.Fetch(ctx, pr.Method, pr.TargetURL, pr.Accept, app.Timeout)
	if err != nil {
		return nil, fmt.Errorf("app %s: %w", app.ID, err)
	}

	header := SanitizeHeaders(up.Header, up.FinalURL, false)
	if useCache {
		s.storeAsync(ctx, logger, app, key, model.NewCachedResponse(up.StatusCode, up.StatusText, header, up.Body))
	}
	if pr.RemoveHeaders {
		header = onlyFinalURL(header)
	}

	return &model.ProxyResponse{
		StatusCode: up.StatusCode,
		Header:     header,
		Body:       up.Body,
	}, nil
}

// Wait blocks until background cache writes have finished.
func (s *ProxyService) Wait() {
	s.pending.Wait()
}

// lookup returns the cached response for key, or nil on a miss. Store
// failures are logged and treated as a miss.
func (s *ProxyService) lookup(ctx context.Context, logger *slog.Logger, app *model.Application, key string, removeHeaders bool) *model.ProxyResponse {
	entry, err := s.store.Get(context.WithoutCancel(ctx), key)
	if err != nil {
		logger.Warn("cache lookup failed, fetching upstream", "key", key, "err", err)
		s.countLookup(app, metrics.CacheError)
		return nil
	}
	if entry == nil {
		s.countLookup(app, metrics.CacheMiss)
		return nil
	}
	s.countLookup(app, metrics.CacheHit)
	logger.Debug("cache hit", "key", key)

	header := entry.HTTPHeader()
	if removeHeaders {
		header = onlyFinalURL(header)
	}
	header.Set(HeaderCacheHit, "true")

	return &model.ProxyResponse{
		StatusCode: entry.Status,
		Header:     header,
		Body:       entry.Data,
		CacheHit:   true,
	}
}

// storeAsync writes entry without holding up the response. Failures are
// only logged.
func (s *ProxyService) storeAsync(ctx context.Context, logger *slog.Logger, app *model.Application, key string, entry *model.CachedResponse) {
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.store.Set(ctx, key, entry, app.CacheTTL); err != nil {
			logger.Warn("cache write failed", "key", key, "err", err)
			s.countWrite(app, "error")
			return
		}
		s.countWrite(app, "ok")
	}()
}

func (s *ProxyService) countLookup(app *model.Application, result string) {
	if s.metrics != nil {
		s.metrics.CacheLookups.WithLabelValues(app.ID, result).Inc()
	}
}

func (s *ProxyService) countWrite(app *model.Application, result string) {
	if s.metrics != nil {
		s.metrics.CacheWrites.WithLabelValues(app.ID, result).Inc()
	}
}

// cacheable limits the cache to GET. The key carries no method, so HEAD,
// POST and every other method bypass the store entirely (no read, no write)
// rather than replay or overwrite the GET representation of a URL.
func cacheable(method string) bool {
	return method == http.MethodGet
}

// checkAccept enforces the application's accepted media types. The Accept
// value is split on commas and parameters (";q=...") are dropped before
// comparing case-insensitively.
func checkAccept(allowed []string, accept string) error {
	if len(allowed) == 0 {
		return nil
	}
	if strings.TrimSpace(accept) == "" {
		return ErrAcceptRequired
	}
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		mediaType = strings.TrimSpace(mediaType)
		for _, a := range allowed {
			if strings.EqualFold(mediaType, a) {
				return nil
			}
		}
	}
	return ErrInvalidAccept
}
