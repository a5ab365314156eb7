package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pompierapp/firequiz/config"
)

// NewRedisClient connects to the redis instance backing the token store.
func NewRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addresses,
		Username: cfg.Username,
		Password: cfg.Password,
	})

	if err := r.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return r, nil
}
