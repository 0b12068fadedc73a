package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/middleware"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/service"
)

// Query parameters understood by the proxy endpoint.
const (
	paramAPIKey  = "api"
	paramURI     = "uri"
	paramHeaders = "headers"
)

// requestErrors are rejected before any upstream traffic; their messages are
// relayed as-is.
var requestErrors = []error{
	service.ErrAPIKeyNotFound,
	service.ErrMissingURI,
	service.ErrAcceptRequired,
	service.ErrInvalidAccept,
}

// ProxyHandler serves the single proxy endpoint.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle fetches the uri= target on behalf of the caller identified by api=
// and relays the status, sanitized headers and body.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		APIKey:        c.QueryParam(paramAPIKey),
		TargetURL:     c.QueryParam(paramURI),
		RemoveHeaders: c.QueryParam(paramHeaders) == "0",
		Method:        req.Method,
		Accept:        req.Header.Get(echo.HeaderAccept),
		Header:        req.Header,
	}

	resp, err := h.service.Forward(req.Context(), pr)
	if err != nil {
		return h.mapError(c, err)
	}

	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = vals
	}
	middleware.SetCORSHeaders(header, req)

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"cache_hit", resp.CacheHit,
		)
	}

	return nil
}

// mapError reports every failure as 500 {"error": message}.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	for _, known := range requestErrors {
		if errors.Is(err, known) {
			h.logger.Warn("request rejected", "err", err)
			return errorJSON(c, known.Error())
		}
	}

	h.logger.Error("proxy error", "err", err)

	var fe *client.FetchError
	if errors.As(err, &fe) {
		return errorJSON(c, fe.Error())
	}
	return errorJSON(c, "internal error")
}

func errorJSON(c echo.Context, msg string) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": msg})
}
