package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/push-relay/internal/app"
	"github.com/jmehdipour/push-relay/internal/config"
	httpSrv "github.com/jmehdipour/push-relay/internal/http"
	"github.com/jmehdipour/push-relay/internal/kafka"
	"github.com/jmehdipour/push-relay/internal/logger"
	"github.com/jmehdipour/push-relay/internal/service/queue"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		log, err := logger.Init(cfg.Log.Level, cfg.Log.Encoding)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		a, err := app.Build(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		deps := httpSrv.Deps{
			Registry:      a.Registry,
			Dispatcher:    a.Dispatcher,
			Tenants:       a.Tenants,
			IPLimiter:     a.IPLimiter,
			TenantLimiter: a.TenantLimiter,
			Log:           log,
		}
		if cfg.Dispatcher.Async {
			producer := kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				BatchTimeout: cfg.Kafka.BatchTimeout,
			})
			defer func() { _ = producer.Close() }()
			deps.Queue = queue.New(producer)
			log.Info("push dispatch is async", zap.String("topic", cfg.Kafka.Topic))
		}

		server, err := httpSrv.NewServer(cfg, deps)
		if err != nil {
			return fmt.Errorf("build http server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
