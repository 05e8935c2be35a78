package cache

import (
	"context"
	"fmt"
	"time"

	"meetpact/core/constants"
	"meetpact/core/logger"

	"github.com/redis/go-redis/v9"
)

// Cache wraps the redis client used for token blacklisting.
type Cache struct {
	client *redis.Client
}

func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis connected", "addr", addr, "db", db)
	return &Cache{client: client}, nil
}

// BlacklistToken marks a token as revoked until its natural expiry.
func (c *Cache) BlacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	return c.client.Set(ctx, constants.RedisKeyTokenBlacklist+token, "1", ttl).Err()
}

func (c *Cache) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	_, err := c.client.Get(ctx, constants.RedisKeyTokenBlacklist+token).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
