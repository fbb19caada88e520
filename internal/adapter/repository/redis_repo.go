package repository

import (
	"context"
	"encoding/json"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "trendpost:"

// RedisRepo 实现了 port.DedupStore 接口，每个仓库一个 key
// retention > 0 时 key 带过期时间，过期后允许再次发布
type RedisRepo struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisRepo 从 redis://host:port/db 形式的 URL 创建
func NewRedisRepo(ctx context.Context, url, prefix string, retention time.Duration) (*RedisRepo, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "connecting redis")
	}
	return newRedisRepo(client, prefix, retention), nil
}

func newRedisRepo(client *redis.Client, prefix string, retention time.Duration) *RedisRepo {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRepo{client: client, prefix: prefix, retention: retention}
}

func (r *RedisRepo) key(repoID string) string {
	return r.prefix + repoID
}

func (r *RedisRepo) Has(ctx context.Context, repoID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(repoID)).Result()
	if err != nil {
		return false, common.WrapError(common.KindStore, "redis.has", err)
	}
	return n > 0, nil
}

// Record 用 SET NX 保证同一个 key 只写一次
func (r *RedisRepo) Record(ctx context.Context, rec domain.PublicationRecord) error {
	rec.PublishedAt = rec.PublishedAt.UTC()
	value, err := json.Marshal(rec)
	if err != nil {
		return common.WrapError(common.KindInternal, "redis.record", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(rec.RepoID), value, r.retention).Result()
	if err != nil {
		return common.WrapError(common.KindStore, "redis.record", err)
	}
	if !ok {
		return common.ErrAlreadyRecorded
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, repoID string) (*domain.PublicationRecord, error) {
	raw, err := r.client.Get(ctx, r.key(repoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, common.WrapError(common.KindStore, "redis.get", err)
	}

	var rec domain.PublicationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, common.WrapError(common.KindStore, "redis.get", errors.Wrapf(err, "decoding %s", r.key(repoID)))
	}
	return &rec, nil
}

// Prune 扫描前缀下的所有 key，删除 before 之前发布的记录
// 设置了 retention 时过期由 redis 自己处理，这里只清理没有 TTL 的旧记录
func (r *RedisRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, common.WrapError(common.KindStore, "redis.prune", err)
		}

		var rec domain.PublicationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// 不认识的值不动
			continue
		}
		if !rec.PublishedAt.Before(before) {
			continue
		}

		n, err := r.client.Del(ctx, key).Result()
		if err != nil {
			return deleted, common.WrapError(common.KindStore, "redis.prune", err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, common.WrapError(common.KindStore, "redis.prune", err)
	}
	return deleted, nil
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}
