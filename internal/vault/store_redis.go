package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"vcissuer/internal/sentinel"
)

const redisKeyPrefix = "vault:secrets:"

// RedisStore keeps secrets in Redis. Suitable for deployments where the
// platform's managed secret backend is fronted by a Redis cache.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("secret %q: %w", key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return payload, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, secrets json.RawMessage) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, []byte(secrets), 0).Err(); err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

func (s *RedisStore) Patch(ctx context.Context, key string, secrets json.RawMessage) error {
	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	merged, err := mergeSecrets(existing, secrets)
	if err != nil {
		return err
	}
	return s.Save(ctx, key, merged)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	deleted, err := s.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("secret %q: %w", key, sentinel.ErrNotFound)
	}
	return nil
}
