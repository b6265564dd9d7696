package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const keyPrefix = "pms:lease:"

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis выдаёт аренду через SET NX PX; истёкшая аренда освобождается самим Redis.
type Redis struct {
	client *redis.Client
	logger *log.Entry
}

// NewRedis создаёт аренду поверх клиента Redis.
func NewRedis(client *redis.Client, logger *log.Entry) *Redis {
	if logger == nil {
		logger = log.WithField("component", "lease-redis")
	}
	return &Redis{client: client, logger: logger}
}

// TryAcquire пытается записать уникальный токен под ключом аренды.
func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ok, err := r.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %q: %w", redisKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			r.logger.WithError(err).WithField("key", redisKey).Warn("lease release failed")
		}
	}
	return release, true, nil
}

// Ping проверяет доступность Redis для health-check.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var _ domain.Lease = (*Redis)(nil)
