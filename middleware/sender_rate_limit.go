package middleware

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// AccountProbeRateLimiter throttles the per-account credential/domain probe
// endpoints: they talk to a real mailbox or WHOIS server, so they're worth
// protecting from abuse.
func AccountProbeRateLimiter(redisURL string, maxPerMinute int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        maxPerMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.Params("id") + ":" + c.Path() + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "too many probe requests, please wait before retrying",
				"retry_after": "1 minute",
			})
		},
		Storage: newRedisStorage(redisURL),
	})
}

// redisStorage implements fiber.Storage on top of go-redis, letting the
// rate limiter share counters across multiple API process instances.
type redisStorage struct {
	client *redis.Client
}

func newRedisStorage(redisURL string) fiber.Storage {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil // falls back to Fiber's in-memory storage
	}
	return &redisStorage{client: redis.NewClient(opt)}
}

func (r *redisStorage) Get(key string) ([]byte, error) {
	b, err := r.client.Get(context.Background(), key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (r *redisStorage) Set(key string, val []byte, exp time.Duration) error {
	return r.client.Set(context.Background(), key, val, exp).Err()
}

func (r *redisStorage) Delete(key string) error {
	return r.client.Del(context.Background(), key).Err()
}

func (r *redisStorage) Reset() error {
	return r.client.FlushDB(context.Background()).Err()
}

func (r *redisStorage) Close() error {
	return r.client.Close()
}
