package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

// ClientsRepository persists client registrations. Every method takes the
// tenant id; there is no way to address a registration by client id alone.
type ClientsRepository interface {
	// Upsert inserts or fully replaces the registration for its key and returns
	// the stored row.
	Upsert(ctx context.Context, reg model.ClientRegistration) (model.ClientRegistration, error)
	Get(ctx context.Context, tenantID, clientID string) (model.ClientRegistration, error)
	// Delete removes the registration and its notification history.
	Delete(ctx context.Context, tenantID, clientID string) error
}

type ClientsRepositoryImpl struct {
	db *sqlx.DB
}

func NewClientsRepository(db *sqlx.DB) *ClientsRepositoryImpl {
	return &ClientsRepositoryImpl{db: db}
}

var _ ClientsRepository = (*ClientsRepositoryImpl)(nil)

func (r *ClientsRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return classify(t.Commit())
}

// Upsert relies on the (tenant_id, client_id) primary key: one statement either
// inserts the row or replaces push_type, device_token and updated_at together,
// so a reader never sees a new provider paired with an old token.
func (r *ClientsRepositoryImpl) Upsert(ctx context.Context, reg model.ClientRegistration) (model.ClientRegistration, error) {
	const q = `
		INSERT INTO clients
		    (tenant_id, client_id, push_type, device_token, registered_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    push_type    = VALUES(push_type),
		    device_token = VALUES(device_token),
		    updated_at   = VALUES(updated_at)
	`
	now := time.Now().UTC()
	var out model.ClientRegistration
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q,
			reg.TenantID, reg.ClientID, reg.ProviderType.String(), reg.PushToken, now, now,
		); err != nil {
			return classify(err)
		}
		return classify(tx.GetContext(ctx, &out, `
			SELECT tenant_id, client_id, push_type, device_token, registered_at, updated_at
			  FROM clients
			 WHERE tenant_id = ? AND client_id = ?
		`, reg.TenantID, reg.ClientID))
	})
	return out, err
}

func (r *ClientsRepositoryImpl) Get(ctx context.Context, tenantID, clientID string) (model.ClientRegistration, error) {
	var c model.ClientRegistration
	err := r.db.GetContext(ctx, &c, `
		SELECT tenant_id, client_id, push_type, device_token, registered_at, updated_at
		  FROM clients
		 WHERE tenant_id = ? AND client_id = ? LIMIT 1
	`, tenantID, clientID)
	if err != nil {
		return model.ClientRegistration{}, classify(err)
	}
	return c, nil
}

func (r *ClientsRepositoryImpl) Delete(ctx context.Context, tenantID, clientID string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM notifications WHERE tenant_id = ? AND client_id = ?`, tenantID, clientID,
		); err != nil {
			return classify(err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM clients WHERE tenant_id = ? AND client_id = ?`, tenantID, clientID,
		)
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
	})
}
