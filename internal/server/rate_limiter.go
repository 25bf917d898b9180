package server

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sufrahq/sufra/internal/config"
	"go.uber.org/zap"
)

const limiterWindow = time.Minute

// Limiter throttles a caller-scoped key over a fixed one-minute window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// NewLimiter picks Redis when configured so replicas share counters, and a
// per-process window otherwise.
func NewLimiter(cfg config.Config, log *zap.Logger) Limiter {
	if cfg.RedisAddr != "" {
		return &redisLimiter{
			client: redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
			log:    log.Named("ratelimit"),
		}
	}
	return &memoryLimiter{entries: make(map[string]*rateLimitEntry)}
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

func (l *memoryLimiter) Allow(_ context.Context, key string, limit int) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.windowStart) >= limiterWindow {
		l.entries[key] = &rateLimitEntry{count: 1, windowStart: now}
		if len(l.entries) > 10000 {
			for k, e := range l.entries {
				if now.Sub(e.windowStart) >= limiterWindow {
					delete(l.entries, k)
				}
			}
		}
		return true, nil
	}
	entry.count++
	return entry.count <= limit, nil
}

type redisLimiter struct {
	client *redis.Client
	log    *zap.Logger
}

func (l *redisLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	redisKey := "ratelimit:" + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, limiterWindow).Err(); err != nil {
			l.log.Warn("rate limit window not set", zap.Error(err))
		}
	}
	return count <= int64(limit), nil
}

// RateLimit throttles per client IP. A broken limiter backend fails open;
// throttling is protection, not an availability dependency.
func (s *Server) RateLimit(scope string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := s.limiter.Allow(c.Request.Context(), scope+":"+c.ClientIP(), limit)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
