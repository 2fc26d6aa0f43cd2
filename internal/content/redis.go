package content

import (
	"context"

	"github.com/redis/go-redis/v9"

	"collabcore/pkg/config"
)

// RedisStore answers content-id validity from the keys the surrounding
// platform maintains for published content items.
type RedisStore struct {
	rdb       *redis.Client
	keyPrefix string
}

func NewRedisStore(rdb *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{rdb: rdb, keyPrefix: keyPrefix}
}

func (s *RedisStore) Exists(ctx context.Context, contentID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.keyPrefix+contentID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// NewRedisClient dials and pings the Redis instance named in config.
func NewRedisClient(ctx context.Context, cfg config.ContentConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
