// Package app assembles the relay components from configuration. Both the
// HTTP server and the dispatch worker start from the same wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jmehdipour/push-relay/internal/config"
	"github.com/jmehdipour/push-relay/internal/db"
	"github.com/jmehdipour/push-relay/internal/dispatcher"
	"github.com/jmehdipour/push-relay/internal/provider"
	"github.com/jmehdipour/push-relay/internal/ratelimit"
	"github.com/jmehdipour/push-relay/internal/registry"
	"github.com/jmehdipour/push-relay/internal/repository"
	"go.uber.org/zap"
)

type App struct {
	Clients       repository.ClientsRepository
	Notifications repository.NotificationsRepository
	Tenants       repository.TenantsRepository

	Registry   *registry.Registry
	Resolver   *provider.Resolver
	Dispatcher *dispatcher.Dispatcher

	IPLimiter     *ratelimit.Limiter
	TenantLimiter *ratelimit.Limiter

	closers []func() error
}

// Build connects the configured backends. Close releases them.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{}
	if err := a.openStorage(cfg, log); err != nil {
		_ = a.Close()
		return nil, err
	}

	globals, err := GlobalProviders(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	for _, p := range globals {
		log.Info("provider enabled", zap.String("type", p.Type().String()))
	}

	a.Resolver = provider.NewResolver(provider.GuardOptions{
		Timeout:       cfg.Providers.Timeout,
		FailThreshold: cfg.Providers.Breaker.FailThreshold,
		OpenFor:       cfg.Providers.Breaker.OpenFor,
	}, cfg.Providers.CacheTTL, globals...)

	a.Registry = registry.New(a.Clients, a.Tenants, registry.Options{
		RequireTenant: cfg.Tenants.RequireRegistered,
		AllowNoop:     cfg.AllowNoop(),
	}, log)

	a.Dispatcher = dispatcher.New(dispatcher.Config{
		MaxAttempts:     cfg.Dispatcher.MaxAttempts,
		InitialInterval: cfg.Dispatcher.InitialBackoff,
		MaxInterval:     cfg.Dispatcher.MaxBackoff,
		Multiplier:      cfg.Dispatcher.Multiplier,
	}, a.Registry, a.Resolver, a.Tenants, a.Notifications, log)

	counter, err := a.openCounter(cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	rl := cfg.RateLimit
	a.IPLimiter = ratelimit.NewLimiter(counter, rl.KeyPrefix, rl.IPRPS, rl.Window)
	a.TenantLimiter = ratelimit.NewLimiter(counter, rl.KeyPrefix, rl.TenantRPS, rl.Window)

	return a, nil
}

func (a *App) openStorage(cfg config.Config, log *zap.Logger) error {
	switch cfg.Storage.Backend {
	case "mysql":
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		a.Clients = repository.NewClientsRepository(sqlDB)
		a.Notifications = repository.NewNotificationsRepository(sqlDB)
		a.Tenants = repository.NewTenantsRepository(sqlDB)
	default:
		log.Warn("using in-memory storage, registrations are lost on restart")
		mem := repository.NewMemory()
		a.Clients = mem
		a.Notifications = mem
		a.Tenants = repository.NewMemoryTenants(mem)
	}
	return nil
}

func (a *App) openCounter(cfg config.Config, log *zap.Logger) (ratelimit.Counter, error) {
	if cfg.RateLimit.Backend != "redis" {
		log.Info("rate limit counters are per process")
		return ratelimit.NewMemoryCounter(), nil
	}
	rdb, err := db.NewRedisClient(db.RedisOpts{
		URL:         cfg.Redis.URL,
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	return ratelimit.NewRedisCounter(rdb), nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// GlobalProviders builds the process-wide adapters used when a tenant has no
// credentials of its own.
func GlobalProviders(ctx context.Context, cfg config.Config) ([]provider.Provider, error) {
	var out []provider.Provider
	pc := cfg.Providers

	if pc.APNS.Enabled {
		ac := provider.APNSConfig{Topic: pc.APNS.Topic, Sandbox: pc.APNS.Sandbox}
		switch {
		case pc.APNS.PKCS8File != "":
			pem, err := os.ReadFile(pc.APNS.PKCS8File)
			if err != nil {
				return nil, fmt.Errorf("apns: read key: %w", err)
			}
			ac.PKCS8PEM, ac.KeyID, ac.TeamID = pem, pc.APNS.KeyID, pc.APNS.TeamID
		case pc.APNS.Certificate != "":
			cert, err := provider.LoadAPNSCertificate(pc.APNS.Certificate, pc.APNS.Password)
			if err != nil {
				return nil, fmt.Errorf("apns: %w", err)
			}
			ac.Certificate = cert
		default:
			return nil, errors.New("apns: enabled without pkcs8_file or certificate")
		}
		p, err := provider.NewAPNS(ac)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if pc.FCM.Enabled {
		p, err := provider.NewFCM(provider.FCMConfig{APIKey: pc.FCM.APIKey})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if pc.FCMV1.Enabled {
		creds, err := os.ReadFile(pc.FCMV1.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("fcm_v1: read credentials: %w", err)
		}
		p, err := provider.NewFCMV1(ctx, provider.FCMV1Config{CredentialsJSON: creds})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if cfg.AllowNoop() {
		out = append(out, provider.NewNoop())
	}
	return out, nil
}
