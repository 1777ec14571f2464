package db

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the Redis instance used for waiting-room
// presence. REDIS_URL follows the redis:// URL scheme.
func NewRedisClient() (*redis.Client, error) {
	opts, err := redis.ParseURL(os.Getenv("REDIS_URL"))
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}
