package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jmehdipour/push-relay/internal/model"
)

const memShards = 32

type memShard struct {
	mu   sync.RWMutex
	rows map[model.ClientKey]model.ClientRegistration
	seen map[model.ClientKey]map[string]time.Time
}

// Memory implements the client and notification repositories in process
// memory. Rows are sharded by key so writers to different clients do not
// contend on one lock.
type Memory struct {
	shards [memShards]*memShard
}

func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i] = &memShard{
			rows: make(map[model.ClientKey]model.ClientRegistration),
			seen: make(map[model.ClientKey]map[string]time.Time),
		}
	}
	return m
}

var (
	_ ClientsRepository       = (*Memory)(nil)
	_ NotificationsRepository = (*Memory)(nil)
	_ TenantsRepository       = (*MemoryTenants)(nil)
)

func (m *Memory) shard(k model.ClientKey) *memShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.TenantID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.ClientID))
	return m.shards[h.Sum32()%memShards]
}

func (m *Memory) Upsert(ctx context.Context, reg model.ClientRegistration) (model.ClientRegistration, error) {
	if err := ctx.Err(); err != nil {
		return model.ClientRegistration{}, err
	}
	k := reg.Key()
	s := m.shard(k)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	row := model.ClientRegistration{
		TenantID:     reg.TenantID,
		ClientID:     reg.ClientID,
		ProviderType: reg.ProviderType,
		PushToken:    reg.PushToken,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if old, ok := s.rows[k]; ok {
		row.RegisteredAt = old.RegisteredAt
	}
	s.rows[k] = row
	return row, nil
}

func (m *Memory) Get(ctx context.Context, tenantID, clientID string) (model.ClientRegistration, error) {
	if err := ctx.Err(); err != nil {
		return model.ClientRegistration{}, err
	}
	k := model.ClientKey{TenantID: tenantID, ClientID: clientID}
	s := m.shard(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[k]
	if !ok {
		return model.ClientRegistration{}, ErrNotFound
	}
	return row, nil
}

func (m *Memory) Delete(ctx context.Context, tenantID, clientID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := model.ClientKey{TenantID: tenantID, ClientID: clientID}
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, k)
	if _, ok := s.rows[k]; !ok {
		return ErrNotFound
	}
	delete(s.rows, k)
	return nil
}

func (m *Memory) MarkReceived(ctx context.Context, tenantID, clientID, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := model.ClientKey{TenantID: tenantID, ClientID: clientID}
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.seen[k]
	if ids == nil {
		ids = make(map[string]time.Time)
		s.seen[k] = ids
	}
	if _, dup := ids[id]; dup {
		return false, nil
	}
	ids[id] = time.Now().UTC()
	return true, nil
}

func (m *Memory) Forget(ctx context.Context, tenantID, clientID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := model.ClientKey{TenantID: tenantID, ClientID: clientID}
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen[k], id)
	return nil
}

func (m *Memory) dropTenant(id string) {
	for _, s := range m.shards {
		s.mu.Lock()
		for k := range s.rows {
			if k.TenantID == id {
				delete(s.rows, k)
				delete(s.seen, k)
			}
		}
		s.mu.Unlock()
	}
}

// MemoryTenants is the in-process tenant store. Deleting a tenant also drops
// its rows from clients when one is attached.
type MemoryTenants struct {
	mu      sync.RWMutex
	tenants map[string]model.Tenant
	clients *Memory
}

func NewMemoryTenants(clients *Memory) *MemoryTenants {
	return &MemoryTenants{tenants: make(map[string]model.Tenant), clients: clients}
}

func (m *MemoryTenants) Create(ctx context.Context, id string) (model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; ok {
		return model.Tenant{}, ErrAlreadyExists
	}
	now := time.Now().UTC()
	t := model.Tenant{ID: id, CreatedAt: now, UpdatedAt: now}
	m.tenants[id] = t
	return t, nil
}

func (m *MemoryTenants) Get(ctx context.Context, id string) (model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return model.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryTenants) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.tenants[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.tenants, id)
	m.mu.Unlock()

	if m.clients != nil {
		m.clients.dropTenant(id)
	}
	return nil
}

func (m *MemoryTenants) UpdateFCM(ctx context.Context, id, apiKey string) error {
	return m.mutateTenant(id, func(t *model.Tenant) {
		t.FCMAPIKey = &apiKey
		unsuspend(t)
	})
}

func (m *MemoryTenants) UpdateFCMV1(ctx context.Context, id, credentials string) error {
	return m.mutateTenant(id, func(t *model.Tenant) {
		t.FCMV1Credentials = &credentials
		unsuspend(t)
	})
}

func (m *MemoryTenants) UpdateAPNS(ctx context.Context, id string, p APNSParams) error {
	return m.mutateTenant(id, func(t *model.Tenant) {
		typ := string(p.Type)
		topic := p.Topic
		t.APNSType = &typ
		t.APNSTopic = &topic
		t.APNSSandbox = p.Sandbox
		t.APNSCertificate = nullable(p.CertB64)
		t.APNSCertificatePassword = nullable(p.Password)
		t.APNSPKCS8PEM = nullable(p.PKCS8PEM)
		t.APNSKeyID = nullable(p.KeyID)
		t.APNSTeamID = nullable(p.TeamID)
		unsuspend(t)
	})
}

func (m *MemoryTenants) Suspend(ctx context.Context, id, reason string) error {
	return m.mutateTenant(id, func(t *model.Tenant) {
		t.Suspended = true
		t.SuspendedReason = &reason
	})
}

func (m *MemoryTenants) mutateTenant(id string, fn func(*model.Tenant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	fn(&t)
	t.UpdatedAt = time.Now().UTC()
	m.tenants[id] = t
	return nil
}

func unsuspend(t *model.Tenant) {
	t.Suspended = false
	t.SuspendedReason = nil
}
