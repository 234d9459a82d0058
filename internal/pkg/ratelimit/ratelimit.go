package ratelimit

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultMax        = 60
	defaultExpiration = time.Minute
)

// New returns the /api limiter. With a cache client the counters live in
// Redis database 1 so every instance shares them; otherwise they are kept in
// process memory.
func New(cacheClient *goredis.Client) fiber.Handler {
	cfg := limiter.Config{
		Max:        defaultMax,
		Expiration: defaultExpiration,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, please retry shortly",
			})
		},
	}
	if cacheClient != nil {
		cfg.Storage = storageFor(cacheClient)
	}
	return limiter.New(cfg)
}

func storageFor(cacheClient *goredis.Client) *redis.Storage {
	host := "localhost"
	port := 6379
	opts := cacheClient.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: 1,
		Reset:    false,
	})
}
