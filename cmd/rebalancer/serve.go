package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/repository/etcd"
	"github.com/limiquantix/rebalancer/internal/repository/postgres"
	"github.com/limiquantix/rebalancer/internal/repository/redis"
	"github.com/limiquantix/rebalancer/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rebalancing engine and status server",
	Long: `Run the rebalancing engine on its configured interval together with the
status server (health probes, Prometheus metrics and plan history).

PostgreSQL, Redis and etcd are used when enabled in the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := setupLogger(cfg.Logging, false)
		defer logger.Sync()

		ctx, cancel := signalContext()
		defer cancel()

		return runServe(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting rebalancer",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	var opts []server.ServerOption

	if cfg.Database.Enabled {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connecting to PostgreSQL: %w", err)
		}
		opts = append(opts, server.WithPostgreSQL(db))
	}

	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without plan cache", zap.Error(err))
		} else {
			opts = append(opts, server.WithRedis(cache))
		}
	}

	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return fmt.Errorf("connecting to etcd: %w", err)
		}
		opts = append(opts, server.WithEtcd(client))
	}

	if cfg.VSphere.Host != "" {
		client, err := connectVSphere(ctx, cfg.VSphere, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to disconnect from vCenter", zap.Error(err))
			}
		}()
		opts = append(opts, server.WithCluster(client, client))
	} else {
		logger.Warn("vsphere.host is not configured, serving plan history only")
	}

	srv, err := server.New(cfg, logger, opts...)
	if err != nil {
		return err
	}

	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Goodbye!")
	return nil
}
