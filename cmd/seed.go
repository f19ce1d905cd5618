package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/push-relay/internal/config"
	"github.com/jmehdipour/push-relay/internal/db"
	"github.com/jmehdipour/push-relay/internal/logger"
	"github.com/jmehdipour/push-relay/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// demoTenants have fixed ids so seeding is idempotent.
var demoTenants = []struct {
	ID     string
	FCMKey string
}{
	{ID: "11111111-1111-4111-8111-111111111111", FCMKey: "demo-fcm-server-key"},
	{ID: "22222222-2222-4222-8222-222222222222"},
	{ID: "33333333-3333-4333-8333-333333333333"},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log, err := logger.Init(cfg.Log.Level, "console")
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns: cfg.MySQL.MaxOpenConns,
			PingTimeout:  cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		return seedTenants(cmd.Context(), repository.NewTenantsRepository(sqlDB), log)
	},
}

func seedTenants(ctx context.Context, tenants repository.TenantsRepository, log *zap.Logger) error {
	for _, t := range demoTenants {
		_, err := tenants.Create(ctx, t.ID)
		switch {
		case errors.Is(err, repository.ErrAlreadyExists):
			log.Info("tenant exists", zap.String("id", t.ID))
		case err != nil:
			return fmt.Errorf("create tenant %s: %w", t.ID, err)
		default:
			log.Info("tenant created", zap.String("id", t.ID))
		}
		if t.FCMKey != "" {
			if err := tenants.UpdateFCM(ctx, t.ID, t.FCMKey); err != nil {
				return fmt.Errorf("set fcm key for %s: %w", t.ID, err)
			}
		}
	}
	log.Info("seed completed", zap.Int("tenants", len(demoTenants)))
	return nil
}
