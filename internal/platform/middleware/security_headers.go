package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns middleware that sets security response headers on
// every request. Responses carry clinical note content, so caching is
// disabled outright rather than scoped per route.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")

			// Legacy XSS filter off; CSP below is the real control.
			h.Set("X-XSS-Protection", "0")

			// JSON-only API: deny all resource loading and embedding.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			// One year, subdomains included.
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Note text must never be served from an intermediary cache.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
