package offer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vcissuer/internal/sentinel"
)

const redisKeyPrefix = "credential_offer:"

// RedisCache stores pending offers in Redis with a TTL. Redemption uses GETDEL
// so single-use semantics hold across replicas of the service.
type RedisCache struct {
	client redis.Cmdable
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Store(ctx context.Context, nonce string, offer CredentialOffer, ttl time.Duration) error {
	payload, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("marshal credential offer: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+nonce, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store credential offer: %w", err)
	}
	return nil
}

func (c *RedisCache) Redeem(ctx context.Context, nonce string) (*CredentialOffer, error) {
	payload, err := c.client.GetDel(ctx, redisKeyPrefix+nonce).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("credential offer %q: %w", nonce, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("redeem credential offer: %w", err)
	}

	var offer CredentialOffer
	if err := json.Unmarshal(payload, &offer); err != nil {
		return nil, fmt.Errorf("unmarshal credential offer: %w", err)
	}
	return &offer, nil
}
