package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// NotificationsRepository remembers which message ids a client already received.
type NotificationsRepository interface {
	// MarkReceived records the message id and reports whether this is the
	// first time it was seen for the client.
	MarkReceived(ctx context.Context, tenantID, clientID, id string) (bool, error)
	// Forget drops a recorded id so the message can be accepted again.
	// Forgetting an unknown id is not an error.
	Forget(ctx context.Context, tenantID, clientID, id string) error
}

type NotificationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewNotificationsRepository(db *sqlx.DB) *NotificationsRepositoryImpl {
	return &NotificationsRepositoryImpl{db: db}
}

var _ NotificationsRepository = (*NotificationsRepositoryImpl)(nil)

// MarkReceived is idempotent on (tenant_id, client_id, id). MySQL reports one
// affected row for a fresh insert and zero for "ON DUPLICATE KEY UPDATE id = id".
func (r *NotificationsRepositoryImpl) MarkReceived(ctx context.Context, tenantID, clientID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, client_id, last_received_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`, id, tenantID, clientID, time.Now().UTC())
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func (r *NotificationsRepositoryImpl) Forget(ctx context.Context, tenantID, clientID, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE tenant_id = ? AND client_id = ? AND id = ?`, tenantID, clientID, id,
	); err != nil {
		return classify(err)
	}
	return nil
}
