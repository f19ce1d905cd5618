package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/patrickmn/go-cache"
)

// Resolver picks the adapter for a registration. Tenant credentials win over
// the process-wide providers configured at startup.
type Resolver struct {
	global map[model.ProviderType]Provider
	guard  GuardOptions
	cache  *cache.Cache

	// HTTPClient, when set, is handed to adapters built from tenant credentials.
	HTTPClient *http.Client
}

func NewResolver(guard GuardOptions, cacheTTL time.Duration, global ...Provider) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	r := &Resolver{
		global: make(map[model.ProviderType]Provider, len(global)),
		guard:  guard,
		cache:  cache.New(cacheTTL, 2*cacheTTL),
	}
	for _, p := range global {
		r.global[p.Type()] = Guard(p, guard)
	}
	return r
}

// Resolve returns the guarded adapter for pt. tenant may be nil when the
// tenant is not registered.
func (r *Resolver) Resolve(ctx context.Context, tenant *model.Tenant, pt model.ProviderType) (Provider, error) {
	if tenant != nil && tenant.Supports(pt) {
		key := fmt.Sprintf("%s:%s:%d", tenant.ID, pt, tenant.UpdatedAt.UnixNano())
		if p, ok := r.cache.Get(key); ok {
			return p.(Provider), nil
		}
		p, err := FromTenant(ctx, *tenant, pt, r.HTTPClient)
		if err != nil {
			return nil, err
		}
		g := Guard(p, r.guard)
		r.cache.Set(key, g, cache.DefaultExpiration)
		return g, nil
	}
	if p, ok := r.global[pt]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotAvailable, pt)
}

// Has reports whether pt can be served without tenant credentials.
func (r *Resolver) Has(pt model.ProviderType) bool {
	_, ok := r.global[pt]
	return ok
}

// FromTenant builds an unguarded adapter from stored tenant credentials.
func FromTenant(ctx context.Context, t model.Tenant, pt model.ProviderType, hc *http.Client) (Provider, error) {
	switch pt {
	case model.ProviderFCM:
		return NewFCM(FCMConfig{APIKey: deref(t.FCMAPIKey), HTTPClient: hc})
	case model.ProviderFCMV1:
		return NewFCMV1(ctx, FCMV1Config{CredentialsJSON: []byte(deref(t.FCMV1Credentials))})
	case model.ProviderAPNS:
		cfg := APNSConfig{Topic: deref(t.APNSTopic), Sandbox: t.APNSSandbox, HTTPClient: hc}
		switch model.APNSAuthType(strings.ToLower(deref(t.APNSType))) {
		case model.APNSAuthToken:
			cfg.PKCS8PEM = []byte(deref(t.APNSPKCS8PEM))
			cfg.KeyID = deref(t.APNSKeyID)
			cfg.TeamID = deref(t.APNSTeamID)
		case model.APNSAuthCertificate:
			cert, err := LoadAPNSCertificate(deref(t.APNSCertificate), deref(t.APNSCertificatePassword))
			if err != nil {
				return nil, err
			}
			cfg.Certificate = cert
		default:
			return nil, errors.New("apns: unknown auth type " + deref(t.APNSType))
		}
		return NewAPNS(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrProviderNotAvailable, pt)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
