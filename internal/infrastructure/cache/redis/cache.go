package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
)

// Cache stores complete answers keyed by normalized query hash. A cache
// failure is never fatal: callers log and fall through to retrieval.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(url string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *Cache) Get(ctx context.Context, key string) (*domain.Answer, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var answer domain.Answer
	if err := json.Unmarshal(data, &answer); err != nil {
		return nil, false, fmt.Errorf("decode cached answer: %w", err)
	}
	return &answer, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, answer *domain.Answer) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
