package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/config"
)

const keyPrefix = "alertd:lease:"

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every engine instance using the same Redis
type RedisLocker struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedisLocker connects to Redis and verifies the connection
func NewRedisLocker(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr))
	return &RedisLocker{
		logger: logger.Named("redis_locker"),
		client: client,
	}, nil
}

// Acquire implements Locker using SET NX PX
func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{locker: r, key: keyPrefix + key, token: token}, true, nil
}

// Close closes the Redis client
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if deleted == 0 {
		l.locker.logger.Warn("Lease expired before release", zap.String("key", l.key))
		return ErrNotHeld
	}
	return nil
}
