package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stores struct {
	clients       ClientsRepository
	notifications NotificationsRepository
	tenants       TenantsRepository
}

// runContract exercises behavior every backend must share.
func runContract(t *testing.T, s stores) {
	ctx := context.Background()

	t.Run("upsert replaces provider and token together", func(t *testing.T) {
		tenant := uuid.NewString()
		first, err := s.clients.Upsert(ctx, model.ClientRegistration{
			TenantID: tenant, ClientID: "c1", ProviderType: model.ProviderFCM, PushToken: "tok-A",
		})
		require.NoError(t, err)
		assert.Equal(t, "tok-A", first.PushToken)

		second, err := s.clients.Upsert(ctx, model.ClientRegistration{
			TenantID: tenant, ClientID: "c1", ProviderType: model.ProviderAPNS, PushToken: "tok-B",
		})
		require.NoError(t, err)
		assert.Equal(t, model.ProviderAPNS, second.ProviderType)
		assert.Equal(t, "tok-B", second.PushToken)
		assert.True(t, second.RegisteredAt.Equal(first.RegisteredAt), "registered_at survives re-registration")

		got, err := s.clients.Get(ctx, tenant, "c1")
		require.NoError(t, err)
		assert.Equal(t, model.ProviderAPNS, got.ProviderType)
		assert.Equal(t, "tok-B", got.PushToken)
	})

	t.Run("same client id under two tenants", func(t *testing.T) {
		a, b := uuid.NewString(), uuid.NewString()
		_, err := s.clients.Upsert(ctx, model.ClientRegistration{TenantID: a, ClientID: "shared", ProviderType: model.ProviderFCM, PushToken: "a"})
		require.NoError(t, err)
		_, err = s.clients.Upsert(ctx, model.ClientRegistration{TenantID: b, ClientID: "shared", ProviderType: model.ProviderFCM, PushToken: "b"})
		require.NoError(t, err)

		require.NoError(t, s.clients.Delete(ctx, a, "shared"))
		_, err = s.clients.Get(ctx, a, "shared")
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := s.clients.Get(ctx, b, "shared")
		require.NoError(t, err)
		assert.Equal(t, "b", got.PushToken)
	})

	t.Run("delete missing is not found", func(t *testing.T) {
		assert.ErrorIs(t, s.clients.Delete(ctx, uuid.NewString(), "ghost"), ErrNotFound)
	})

	t.Run("mark received once per client", func(t *testing.T) {
		tenant := uuid.NewString()
		_, err := s.clients.Upsert(ctx, model.ClientRegistration{TenantID: tenant, ClientID: "c1", ProviderType: model.ProviderFCM, PushToken: "t"})
		require.NoError(t, err)

		first, err := s.notifications.MarkReceived(ctx, tenant, "c1", "m1")
		require.NoError(t, err)
		assert.True(t, first)
		again, err := s.notifications.MarkReceived(ctx, tenant, "c1", "m1")
		require.NoError(t, err)
		assert.False(t, again)
		other, err := s.notifications.MarkReceived(ctx, tenant, "c2", "m1")
		require.NoError(t, err)
		assert.True(t, other)

		// history goes with the registration
		require.NoError(t, s.clients.Delete(ctx, tenant, "c1"))
		fresh, err := s.notifications.MarkReceived(ctx, tenant, "c1", "m1")
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("forget allows the id again", func(t *testing.T) {
		tenant := uuid.NewString()
		first, err := s.notifications.MarkReceived(ctx, tenant, "c1", "m1")
		require.NoError(t, err)
		require.True(t, first)

		require.NoError(t, s.notifications.Forget(ctx, tenant, "c1", "m1"))
		require.NoError(t, s.notifications.Forget(ctx, tenant, "c1", "never-seen"))

		again, err := s.notifications.MarkReceived(ctx, tenant, "c1", "m1")
		require.NoError(t, err)
		assert.True(t, again)
	})

	t.Run("tenant lifecycle", func(t *testing.T) {
		id := uuid.NewString()
		_, err := s.tenants.Create(ctx, id)
		require.NoError(t, err)
		_, err = s.tenants.Create(ctx, id)
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := s.tenants.Get(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, got.Providers())

		require.NoError(t, s.tenants.UpdateFCM(ctx, id, "key"))
		require.NoError(t, s.tenants.UpdateAPNS(ctx, id, APNSParams{
			Type: model.APNSAuthToken, Topic: "com.example", PKCS8PEM: "pem", KeyID: "K", TeamID: "T",
		}))
		require.NoError(t, s.tenants.Suspend(ctx, id, "BadCertificate"))

		got, err = s.tenants.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Suspended)
		require.NotNil(t, got.SuspendedReason)
		assert.Equal(t, "BadCertificate", *got.SuspendedReason)
		assert.ElementsMatch(t, []model.ProviderType{model.ProviderAPNS, model.ProviderFCM}, got.Providers())
		assert.Nil(t, got.APNSCertificate)

		require.NoError(t, s.tenants.UpdateFCMV1(ctx, id, `{"project_id":"p"}`))
		got, err = s.tenants.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.Suspended, "new credentials lift the suspension")
		assert.True(t, got.Supports(model.ProviderFCMV1))

		_, err = s.clients.Upsert(ctx, model.ClientRegistration{TenantID: id, ClientID: "c1", ProviderType: model.ProviderFCM, PushToken: "t"})
		require.NoError(t, err)
		require.NoError(t, s.tenants.Delete(ctx, id))
		_, err = s.tenants.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.clients.Get(ctx, id, "c1")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.tenants.Delete(ctx, id), ErrNotFound)
		assert.ErrorIs(t, s.tenants.Suspend(ctx, id, "x"), ErrNotFound)
	})
}
