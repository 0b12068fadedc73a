// Package middleware provides Echo middleware for logging, metrics, CORS and
// response hardening.
package middleware

import (
	"log/slog"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
)

// apiKeyPattern matches the api query parameter carrying the client's key.
var apiKeyPattern = regexp.MustCompile(`(?i)((?:^|&)api=)[^&]*`)

// RequestLogger returns an Echo middleware that logs each request with slog.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"query", RedactQuery(req.URL.RawQuery),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// RedactQuery hides API key values in a raw query string.
func RedactQuery(rawQuery string) string {
	return apiKeyPattern.ReplaceAllString(rawQuery, "${1}[REDACTED]")
}
