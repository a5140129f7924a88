package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// RequestID propagates an inbound X-Request-ID or assigns a fresh UUID. The id
// is echoed on the response and stored under "request_id" in both the echo
// context and the request context.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" || len(rid) > 128 {
				rid = uuid.NewString()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			ctx := context.WithValue(c.Request().Context(), ctxKey{}, rid)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func RequestIDFromContext(ctx context.Context) string {
	rid, _ := ctx.Value(ctxKey{}).(string)
	return rid
}
