package middleware

import (
	"net/http"
	"strconv"

	"github.com/jmehdipour/push-relay/internal/metrics"
	"github.com/jmehdipour/push-relay/internal/ratelimit"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RateLimitConfig wires the admission controller. Either limiter may be nil.
type RateLimitConfig struct {
	IP          *ratelimit.Limiter
	Tenant      *ratelimit.Limiter
	TenantParam string // path param carrying the tenant id, e.g. "tenant_id"
	Log         *zap.Logger
}

// RateLimitMiddleware applies a fixed-window limit per client IP on every
// route, and a second per-tenant limit on routes with a tenant path param.
// Both must pass; a rejected request never reaches the handler.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.TenantParam == "" {
		cfg.TenantParam = "tenant_id"
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ok, err := admit(c, cfg, cfg.IP, "ip", c.RealIP()); !ok {
				return err
			}
			if tenant := c.Param(cfg.TenantParam); tenant != "" {
				if ok, err := admit(c, cfg, cfg.Tenant, "tenant", tenant); !ok {
					return err
				}
			}
			return next(c)
		}
	}
}

// admit reports whether the request may continue. When it may not, the
// response has already been written and err is what the middleware returns.
func admit(c echo.Context, cfg RateLimitConfig, l *ratelimit.Limiter, dim, id string) (bool, error) {
	if l == nil || id == "" {
		return true, nil
	}
	d, err := l.Allow(c.Request().Context(), dim+":"+id)
	if err != nil {
		cfg.Log.Error("rate limit store failed", zap.String("dimension", dim), zap.Error(err))
		return false, c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "rate limiter unavailable"})
	}
	if d.Allowed {
		return true, nil
	}
	metrics.RateLimited.WithLabelValues(dim).Inc()
	c.Response().Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	return false, c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
}
