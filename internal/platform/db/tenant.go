package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// TenantSchema returns the Postgres schema holding a tenant's ledger.
func TenantSchema(tenantID string) string {
	return fmt.Sprintf("tenant_%s", tenantID)
}

// TenantMiddleware resolves the tenant for the request. With a pool it also
// pins a connection whose search_path points at the tenant schema; with a nil
// pool (in-memory store) only the tenant id is recorded.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)
			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := WithTenant(c.Request().Context(), tenantID)
			c.Set("tenant_id", tenantID)

			if pool != nil {
				var release func()
				var err error
				ctx, release, err = AcquireTenant(ctx, pool, tenantID)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
				}
				defer release()
				c.Set("db", ConnFromContext(ctx))
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// extractTenantID prefers the JWT claim, then the X-Tenant-ID header, then
// the tenant_id query parameter.
func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// AcquireTenant pins a pool connection to the tenant schema and returns a
// context carrying it. The caller must invoke release.
func AcquireTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string) (context.Context, func(), error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return ctx, nil, fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", TenantSchema(tenantID))); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("set search_path for %s: %w", tenantID, err)
	}
	ctx = WithTenant(ctx, tenantID)
	return context.WithValue(ctx, DBConnKey, conn), conn.Release, nil
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates the tenant schema and applies every migration in
// fsys to it. A nil fsys skips migrations.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, fsys fs.FS) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	schema := TenantSchema(tenantID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if fsys != nil {
		if _, err := NewMigrator(pool, fsys).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
