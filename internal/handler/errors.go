package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/middleware"
)

// proxyRoute is the route served by ProxyHandler.
const proxyRoute = "/"

// NewHTTPErrorHandler returns echo's central error handler. Errors raised on
// the proxy route before ProxyHandler runs (body limit, rate limiter,
// recovered panics) get the same answer as the handler's own failures: the
// CORS headers and 500 {"error": message}. Other routes use echo's default.
func NewHTTPErrorHandler(e *echo.Echo, logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		req := c.Request()
		if req.URL.Path != proxyRoute {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		if c.Response().Committed {
			return
		}

		msg := http.StatusText(http.StatusInternalServerError)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if s, ok := he.Message.(string); ok && s != "" {
				msg = s
			} else {
				msg = http.StatusText(he.Code)
			}
		}
		logger.Warn("request rejected before proxying", "err", err, "method", req.Method)

		middleware.SetCORSHeaders(c.Response().Header(), req)
		if req.Method == http.MethodHead {
			err = c.NoContent(http.StatusInternalServerError)
		} else {
			err = errorJSON(c, msg)
		}
		if err != nil {
			logger.Error("writing error response", "err", err)
		}
	}
}
