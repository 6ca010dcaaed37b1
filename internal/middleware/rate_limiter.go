package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"golang.org/x/time/rate"
)

// RateLimiterConfig holds rate limiting settings
type RateLimiterConfig struct {
	GeneralLimit  int
	GeneralWindow time.Duration
	BuildLimit    int
	BuildWindow   time.Duration
}

func limitReached(c *fiber.Ctx, message string, window time.Duration) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "Rate limit exceeded",
		"message":     message,
		"retry_after": window.Seconds(),
	})
}

// NewRateLimiter creates the per-IP limiter applied to every route
func NewRateLimiter(config RateLimiterConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GeneralLimit,
		Expiration: config.GeneralWindow,
		Next: func(c *fiber.Ctx) bool {
			return config.GeneralLimit <= 0
		},
		LimitReached: func(c *fiber.Ctx) error {
			return limitReached(c, "Too many requests. Please try again later.", config.GeneralWindow)
		},
	})
}

// KeyedRateLimiter applies a token bucket per key, e.g. per lesson
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedEntry
	limit    rate.Limit
	burst    int
	window   time.Duration
	now      func() time.Time
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter allows burst requests per key, refilled evenly over window
func NewKeyedRateLimiter(burst int, window time.Duration) *KeyedRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &KeyedRateLimiter{
		limiters: make(map[string]*keyedEntry),
		limit:    rate.Every(window / time.Duration(burst)),
		burst:    burst,
		window:   window,
		now:      time.Now,
	}
}

// Allow reports whether one more request for key may proceed
func (k *KeyedRateLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	entry, ok := k.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = now

	// Drop idle buckets; they would be full again anyway
	for other, e := range k.limiters {
		if now.Sub(e.lastSeen) > 2*k.window {
			delete(k.limiters, other)
		}
	}

	return entry.limiter.AllowN(now, 1)
}

// Handler limits requests by the route parameter param
func (k *KeyedRateLimiter) Handler(param, message string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params(param)
		if key == "" {
			key = c.IP()
		}
		if !k.Allow(key) {
			return limitReached(c, message, k.window)
		}
		return c.Next()
	}
}
