package app

import (
	"context"
	"errors"

	"role-sync-service/internal/config"
	"role-sync-service/internal/db"
	"role-sync-service/internal/logger"
	"role-sync-service/internal/redis"
)

// Infra holds the optional backing services. Either field is nil when it
// is not configured.
type Infra struct {
	DB    *db.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	infra := &Infra{}

	if cfg.DatabaseDSN != "" {
		database, err := db.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := db.RunSyncAttemptsMigration(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
		infra.DB = database
		logger.Info("database ready", nil)
	} else {
		logger.Warn("DATABASE_DSN not set, attempts are not audited", nil)
	}

	if cfg.RedisAddr != "" {
		client, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.HTTPTimeout)
		if err != nil {
			_ = infra.Close()
			return nil, err
		}
		infra.Redis = client
		logger.Info("redis ready", map[string]any{"addr": cfg.RedisAddr})
	} else {
		logger.Warn("REDIS_ADDR not set, subject locks are local to this process", nil)
	}

	return infra, nil
}

func (i *Infra) Close() error {
	var errs []error
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	return errors.Join(errs...)
}
