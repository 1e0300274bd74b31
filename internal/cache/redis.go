package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorKeyPrefix = "mirror:"

// RedisMirror holds the mirror in Redis so server-side sessions can repaint
// after a restart. Calls are bounded by timeout since the Mirror API carries
// no context.
type RedisMirror struct {
	redis   *redis.Client
	prefix  string
	timeout time.Duration
}

func NewRedisMirror(client *redis.Client, namespace string) *RedisMirror {
	prefix := mirrorKeyPrefix
	if namespace != "" {
		prefix = namespace + ":" + mirrorKeyPrefix
	}
	return &RedisMirror{redis: client, prefix: prefix, timeout: 2 * time.Second}
}

func (c *RedisMirror) Get(key string, dst any) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	data, err := c.redis.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dst)
}

func (c *RedisMirror) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.redis.Set(ctx, c.prefix+key, data, 0).Err()
}

func (c *RedisMirror) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.redis.Del(ctx, c.prefix+key).Err()
}
