//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/jmehdipour/push-relay/internal/db"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
)

func TestMySQL_Contract(t *testing.T) {
	ctx := context.Background()
	ctr, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("pushrelay"),
		tcmysql.WithUsername("relay"),
		tcmysql.WithPassword("relay"),
		tcmysql.WithScripts("../../migrations/001_init.sql"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	sqlDB, err := db.NewMySQLConnection(dsn, db.MySQLOpts{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	runContract(t, stores{
		clients:       NewClientsRepository(sqlDB),
		notifications: NewNotificationsRepository(sqlDB),
		tenants:       NewTenantsRepository(sqlDB),
	})
}
