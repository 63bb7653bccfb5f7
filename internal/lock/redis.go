package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sis-gradesync/internal/logger"
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var errBusy = errors.New("lock busy")

type RedisService struct {
	client       *redis.Client
	prefix       string
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewRedisService(client *redis.Client, prefix string) *RedisService {
	return &RedisService{
		client:       client,
		prefix:       prefix,
		pollInterval: 100 * time.Millisecond,
		log:          logger.Component("lock"),
	}
}

func (s *RedisService) Acquire(ctx context.Context, key string, wait, ttl time.Duration) (Lock, error) {
	name := s.prefix + key
	token := uuid.NewString()

	_, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := s.client.SetNX(ctx, name, token, ttl).Result()
		if err != nil {
			return false, backoff.Permanent(err)
		}
		if !ok {
			return false, errBusy
		}
		return true, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.pollInterval)),
		backoff.WithMaxElapsedTime(wait),
	)

	switch {
	case err == nil:
		s.log.Debug().Str("lock", name).Dur("ttl", ttl).Msg("Lock acquired")
		return &redisLock{client: s.client, name: name, key: key, token: token}, nil
	case errors.Is(err, errBusy):
		return nil, notAcquired(key)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
}

type redisLock struct {
	client *redis.Client
	name   string
	key    string
	token  string
}

func (l *redisLock) Key() string { return l.key }

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.name}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.name, err)
	}
	return nil
}
