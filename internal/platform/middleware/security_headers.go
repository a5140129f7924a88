package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityConfig selects the deployment-dependent security headers.
type SecurityConfig struct {
	// HSTS pins browsers to HTTPS. Only enable it when the server is reached
	// over TLS; development servers listen on plain HTTP.
	HSTS bool
}

// SecurityHeaders is applied to every response, error bodies included.
// Invoice, payment and patient payloads must never be stored by a browser or
// a shared proxy, so every response is marked private and no-store.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Cache-Control", "no-store, private")
			h.Set("Pragma", "no-cache")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			return next(c)
		}
	}
}
