package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

// APNSParams replaces a tenant's APNS settings as a unit.
type APNSParams struct {
	Type     model.APNSAuthType
	Topic    string
	Sandbox  bool
	CertB64  string
	Password string
	PKCS8PEM string
	KeyID    string
	TeamID   string
}

// TenantsRepository stores per-tenant provider credentials. The Update
// methods replace one provider's settings and lift any suspension.
type TenantsRepository interface {
	Create(ctx context.Context, id string) (model.Tenant, error)
	Get(ctx context.Context, id string) (model.Tenant, error)
	Delete(ctx context.Context, id string) error
	UpdateFCM(ctx context.Context, id, apiKey string) error
	UpdateFCMV1(ctx context.Context, id, credentials string) error
	UpdateAPNS(ctx context.Context, id string, p APNSParams) error
	Suspend(ctx context.Context, id, reason string) error
}

type TenantsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTenantsRepository(db *sqlx.DB) *TenantsRepositoryImpl {
	return &TenantsRepositoryImpl{db: db}
}

var _ TenantsRepository = (*TenantsRepositoryImpl)(nil)

const tenantColumns = `id, fcm_api_key, fcm_v1_credentials, apns_type, apns_topic, apns_sandbox,
	apns_certificate, apns_certificate_password, apns_pkcs8_pem, apns_key_id, apns_team_id,
	suspended, suspended_reason, created_at, updated_at`

func (r *TenantsRepositoryImpl) Create(ctx context.Context, id string) (model.Tenant, error) {
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now,
	); err != nil {
		return model.Tenant{}, classify(err)
	}
	return r.Get(ctx, id)
}

func (r *TenantsRepositoryImpl) Get(ctx context.Context, id string) (model.Tenant, error) {
	var t model.Tenant
	if err := r.db.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE id = ? LIMIT 1`, id); err != nil {
		return model.Tenant{}, classify(err)
	}
	return t, nil
}

// Delete drops the tenant together with every client and notification row it owns.
func (r *TenantsRepositoryImpl) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM notifications WHERE tenant_id = ?`,
		`DELETE FROM clients WHERE tenant_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return classify(err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return classify(tx.Commit())
}

func (r *TenantsRepositoryImpl) UpdateFCM(ctx context.Context, id, apiKey string) error {
	return r.update(ctx, `UPDATE tenants SET fcm_api_key = ?, suspended = FALSE, suspended_reason = NULL, updated_at = ? WHERE id = ?`,
		apiKey, time.Now().UTC(), id)
}

func (r *TenantsRepositoryImpl) UpdateFCMV1(ctx context.Context, id, credentials string) error {
	return r.update(ctx, `UPDATE tenants SET fcm_v1_credentials = ?, suspended = FALSE, suspended_reason = NULL, updated_at = ? WHERE id = ?`,
		credentials, time.Now().UTC(), id)
}

func (r *TenantsRepositoryImpl) UpdateAPNS(ctx context.Context, id string, p APNSParams) error {
	return r.update(ctx, `
		UPDATE tenants
		   SET apns_type = ?, apns_topic = ?, apns_sandbox = ?,
		       apns_certificate = ?, apns_certificate_password = ?,
		       apns_pkcs8_pem = ?, apns_key_id = ?, apns_team_id = ?,
		       suspended = FALSE, suspended_reason = NULL,
		       updated_at = ?
		 WHERE id = ?
	`, string(p.Type), p.Topic, p.Sandbox,
		nullable(p.CertB64), nullable(p.Password),
		nullable(p.PKCS8PEM), nullable(p.KeyID), nullable(p.TeamID),
		time.Now().UTC(), id)
}

func (r *TenantsRepositoryImpl) Suspend(ctx context.Context, id, reason string) error {
	return r.update(ctx, `UPDATE tenants SET suspended = TRUE, suspended_reason = ?, updated_at = ? WHERE id = ?`,
		reason, time.Now().UTC(), id)
}

func (r *TenantsRepositoryImpl) update(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
