// Package registry validates and stores client registrations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmehdipour/push-relay/internal/metrics"
	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/jmehdipour/push-relay/internal/repository"
	"go.uber.org/zap"
)

// DIDPrefix is stripped from client ids issued as decentralized identifiers.
const DIDPrefix = "did:key:"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrProviderNotAvailable = errors.New("provider not available for tenant")
	ErrNotFound             = repository.ErrNotFound
	ErrStorageUnavailable   = repository.ErrStorageUnavailable
)

// Options controls tenant validation on registration.
type Options struct {
	// RequireTenant rejects registrations for tenants absent from the tenant
	// store, and for providers the tenant has no credentials for.
	RequireTenant bool
	// AllowNoop accepts the in-memory noop provider type (dev and tests).
	AllowNoop bool
}

type Registry struct {
	clients repository.ClientsRepository
	tenants repository.TenantsRepository
	opts    Options
	log     *zap.Logger
}

// New builds a Registry. tenants may be nil when RequireTenant is false.
func New(clients repository.ClientsRepository, tenants repository.TenantsRepository, opts Options, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{clients: clients, tenants: tenants, opts: opts, log: log}
}

// NormalizeClientID trims whitespace and the did:key: prefix.
func NormalizeClientID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), DIDPrefix)
}

// ValidTenantID reports whether id is UUID shaped.
func ValidTenantID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Register validates the input and upserts the registration. Calling it again
// with the same (tenant, client) replaces provider and token in place.
func (r *Registry) Register(ctx context.Context, tenantID, clientID, providerType, token string) (model.ClientRegistration, error) {
	if !ValidTenantID(tenantID) {
		return model.ClientRegistration{}, fmt.Errorf("%w: tenant_id must be a UUID", ErrInvalidInput)
	}
	clientID = NormalizeClientID(clientID)
	if clientID == "" {
		return model.ClientRegistration{}, fmt.Errorf("%w: client_id is required", ErrInvalidInput)
	}
	pt, ok := model.ParseProviderType(providerType)
	if !ok {
		return model.ClientRegistration{}, fmt.Errorf("%w: unsupported type %q", ErrInvalidInput, providerType)
	}
	if pt == model.ProviderNoop && !r.opts.AllowNoop {
		return model.ClientRegistration{}, fmt.Errorf("%w: %s", ErrProviderNotAvailable, pt)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return model.ClientRegistration{}, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}

	if r.opts.RequireTenant {
		if err := r.checkTenant(ctx, tenantID, pt); err != nil {
			return model.ClientRegistration{}, err
		}
	}

	reg, err := r.clients.Upsert(ctx, model.ClientRegistration{
		TenantID:     tenantID,
		ClientID:     clientID,
		ProviderType: pt,
		PushToken:    token,
	})
	if err != nil {
		return model.ClientRegistration{}, fmt.Errorf("upsert client: %w", err)
	}

	metrics.RegisteredClients.WithLabelValues(pt.String()).Inc()
	r.log.Info("registered client",
		zap.String("tenant_id", tenantID),
		zap.String("client_id", clientID),
		zap.String("push_type", pt.String()),
	)
	return reg, nil
}

func (r *Registry) checkTenant(ctx context.Context, tenantID string, pt model.ProviderType) error {
	if r.tenants == nil {
		return fmt.Errorf("%w: no tenant store configured", ErrStorageUnavailable)
	}
	t, err := r.tenants.Get(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTenantNotFound
	}
	if err != nil {
		return fmt.Errorf("get tenant: %w", err)
	}
	if pt != model.ProviderNoop && !t.Supports(pt) {
		return fmt.Errorf("%w: %s", ErrProviderNotAvailable, pt)
	}
	return nil
}

// Lookup returns the registration for (tenant, client) or ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, tenantID, clientID string) (model.ClientRegistration, error) {
	reg, err := r.clients.Get(ctx, tenantID, NormalizeClientID(clientID))
	if err != nil {
		return model.ClientRegistration{}, err
	}
	return reg, nil
}

// Remove deletes the registration or returns ErrNotFound.
func (r *Registry) Remove(ctx context.Context, tenantID, clientID string) error {
	clientID = NormalizeClientID(clientID)
	if err := r.clients.Delete(ctx, tenantID, clientID); err != nil {
		return err
	}
	r.log.Info("removed client", zap.String("tenant_id", tenantID), zap.String("client_id", clientID))
	return nil
}
