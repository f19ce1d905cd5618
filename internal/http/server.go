package http

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"time"

	"github.com/jmehdipour/push-relay/internal/config"
	"github.com/jmehdipour/push-relay/internal/dispatcher"
	"github.com/jmehdipour/push-relay/internal/http/middleware"
	"github.com/jmehdipour/push-relay/internal/metrics"
	"github.com/jmehdipour/push-relay/internal/ratelimit"
	"github.com/jmehdipour/push-relay/internal/registry"
	"github.com/jmehdipour/push-relay/internal/repository"
	"github.com/jmehdipour/push-relay/internal/service/queue"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the components the HTTP layer drives. Tenants and Queue are optional.
type Deps struct {
	Registry      *registry.Registry
	Dispatcher    *dispatcher.Dispatcher
	Tenants       repository.TenantsRepository // nil: no /tenants routes
	Queue         *queue.Service               // nil: push dispatches synchronously
	IPLimiter     *ratelimit.Limiter
	TenantLimiter *ratelimit.Limiter
	Log           *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLogLevel(cfg.Log.Level))
	if cfg.HTTP.TrustForwarded {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Use(echoMid.Recover(), echoMid.RequestID(), echoMid.Logger(), requestLogger(deps.Log))
	if len(cfg.HTTP.CORSOrigins) > 0 {
		e.Use(echoMid.CORSWithConfig(echoMid.CORSConfig{AllowOrigins: cfg.HTTP.CORSOrigins}))
	}
	// admission runs after routing so tenant params are available
	e.Use(middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		IP:          deps.IPLimiter,
		Tenant:      deps.TenantLimiter,
		TenantParam: "tenant_id",
		Log:         deps.Log,
	}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// health
	e.GET("/health", healthHandler)

	// push is optionally signed by the relay
	var pushMW []echo.MiddlewareFunc
	if cfg.Relay.ValidateSignatures {
		pub, err := middleware.ParsePublicKey(cfg.Relay.PublicKey)
		if err != nil {
			return nil, err
		}
		pushMW = append(pushMW, middleware.SignatureMiddleware(ed25519.PublicKey(pub), cfg.Relay.MaxClockSkew))
	}

	push := pushMessageHandler(deps, cfg.Dispatcher.JobTimeout)

	// multi-tenant routes
	e.POST("/:tenant_id/clients", registerClientHandler(deps.Registry, pathTenant))
	e.DELETE("/:tenant_id/clients/:client_id", deleteClientHandler(deps.Registry, pathTenant))
	e.POST("/:tenant_id/clients/:client_id", push(pathTenant), pushMW...)

	// single-tenant routes
	if id := cfg.Tenants.DefaultID; id != "" {
		fixed := func(echo.Context) string { return id }
		e.POST("/clients", registerClientHandler(deps.Registry, fixed))
		e.DELETE("/clients/:client_id", deleteClientHandler(deps.Registry, fixed))
		e.POST("/clients/:client_id", push(fixed), pushMW...)
	}

	// tenant management; unauthenticated only in dev and test
	if deps.Tenants != nil {
		var adminMW []echo.MiddlewareFunc
		mount := true
		switch {
		case cfg.Tenants.AdminJWTSecret != "":
			adminMW = append(adminMW, middleware.AdminJWTMiddleware([]byte(cfg.Tenants.AdminJWTSecret)))
		case cfg.AllowNoop():
		default:
			mount = false
			deps.Log.Warn("tenant admin routes disabled: tenants.admin_jwt_secret is not set", zap.String("env", cfg.Env))
		}
		if mount {
			t := e.Group("/tenants", adminMW...)
			t.POST("", createTenantHandler(deps.Tenants))
			t.GET("/:id", getTenantHandler(deps.Tenants))
			t.DELETE("/:id", deleteTenantHandler(deps.Tenants))
			t.POST("/:id/fcm", updateFCMHandler(deps.Tenants))
			t.POST("/:id/fcm_v1", updateFCMV1Handler(deps.Tenants))
			t.POST("/:id/apns", updateAPNSHandler(deps.Tenants))
		}
	}

	if cfg.HTTP.ReadTimeout > 0 {
		e.Server.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		e.Server.WriteTimeout = cfg.HTTP.WriteTimeout
	}

	return &Server{e: e, log: deps.Log}, nil
}

func pathTenant(c echo.Context) string { return c.Param("tenant_id") }

const logKey = "log"

// requestLogger puts a request scoped logger on the context for handlers.
func requestLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(logKey, base.With(zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID))))
			return next(c)
		}
	}
}

func loggerFrom(c echo.Context) *zap.Logger {
	if l, ok := c.Get(logKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

func echoLogLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}
