package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const corsAllowMethods = "GET, PUT, PATCH, POST, DELETE"

// CORS returns a route-level middleware that opens the route to any origin,
// including private-network preflights. Preflight (OPTIONS) requests are
// answered with an empty 200 and never reach the handler.
//
// echo's own CORS middleware is not used: it only answers when an Origin
// header is present and has no Private-Network support.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			SetCORSHeaders(c.Response().Header(), c.Request())
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusOK)
			}
			return next(c)
		}
	}
}

// SetCORSHeaders writes the proxy's CORS policy onto h, replacing any
// values already there. Allow-Headers echoes the preflight's
// Access-Control-Request-Headers, or "*" when the request names none.
func SetCORSHeaders(h http.Header, req *http.Request) {
	allowHeaders := req.Header.Get(echo.HeaderAccessControlRequestHeaders)
	if allowHeaders == "" {
		allowHeaders = "*"
	}
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
	h.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)
	h.Set("Access-Control-Allow-Private-Network", "true")
	h.Set(echo.HeaderAccessControlExposeHeaders, "x-final-url")
}
