package repository

import (
	"context"

	"github-trending-poster/internal/config"
	"github-trending-poster/internal/port"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// 编译期检查
var (
	_ port.DedupStore = (*SQLiteRepo)(nil)
	_ port.DedupStore = (*PostgresRepo)(nil)
	_ port.DedupStore = (*RedisRepo)(nil)
)

// New 按 store.driver 创建发布记录存储
func New(ctx context.Context, cfg config.StoreConfig, log *zap.SugaredLogger) (port.DedupStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteRepo(cfg.Path, log)
	case "postgres":
		return NewPostgresRepo(cfg.DSN)
	case "redis":
		return NewRedisRepo(ctx, cfg.RedisURL, cfg.KeyPrefix, cfg.Retention)
	default:
		return nil, errors.Newf("unknown store driver %q", cfg.Driver)
	}
}
