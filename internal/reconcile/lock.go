package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditmeter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// compare-and-delete: a holder whose lease expired cannot release a lock that
// another run has taken since.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockHeld = errors.New("reconcile_lock_held")

// PeriodLock guards one reconciliation run per period.
type PeriodLock interface {
	Acquire(ctx context.Context, periodStart string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLock implements PeriodLock with SETNX and a uuid lease token.
type RedisLock struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLock(client *redis.Client) *RedisLock {
	if client == nil {
		return nil
	}
	return &RedisLock{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, periodStart string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	periodStart = strings.TrimSpace(periodStart)
	if periodStart == "" {
		return nil, errors.New("lock period is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	key := lockKey(periodStart)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		return l.script.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

func lockKey(periodStart string) string {
	return "creditmeter:reconcile:" + periodStart
}

// NewRedisClient returns nil when REDIS_ADDR is unset; the reconciler then
// runs without a lock.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Info("redis not configured, reconcile lock disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}
