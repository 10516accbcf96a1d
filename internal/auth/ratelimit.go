package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimiter provides rate limiting for login attempts, keyed by client IP
type RateLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*attemptInfo
	maxAttempts int
	window      time.Duration
	blockTime   time.Duration
}

type attemptInfo struct {
	count     int
	firstTry  time.Time
	blockedAt time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxAttempts int, window, blockTime time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:    make(map[string]*attemptInfo),
		maxAttempts: maxAttempts,
		window:      window,
		blockTime:   blockTime,
	}
}

// DefaultRateLimiter creates a rate limiter with sensible defaults:
// 5 attempts per 15 minutes, blocked for 15 minutes after exceeding
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(5, 15*time.Minute, 15*time.Minute)
}

// Allow checks if the given key may attempt a login, returning the remaining
// block time when it may not
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	info, exists := rl.attempts[key]

	if !exists {
		rl.attempts[key] = &attemptInfo{count: 1, firstTry: now}
		return true, 0
	}

	if !info.blockedAt.IsZero() {
		if blocked := info.blockedAt.Add(rl.blockTime).Sub(now); blocked > 0 {
			return false, blocked
		}
		// Block expired, reset
		info.count = 1
		info.firstTry = now
		info.blockedAt = time.Time{}
		return true, 0
	}

	if now.Sub(info.firstTry) > rl.window {
		// Window expired, reset
		info.count = 1
		info.firstTry = now
		return true, 0
	}

	info.count++
	if info.count > rl.maxAttempts {
		info.blockedAt = now
		return false, rl.blockTime
	}

	return true, 0
}

// RecordSuccess resets the attempt count after a successful login
func (rl *RateLimiter) RecordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// Middleware returns an Echo middleware that rate limits requests by IP
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, blocked := rl.Allow(c.RealIP())
			if !allowed {
				retryAfter := int(blocked.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "too many login attempts",
					"retry_after": retryAfter,
				})
			}
			return next(c)
		}
	}
}
