package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AnshRaj112/loanhub-backend/pkg/clientip"
)

const (
	// RateLimitWindow is the fixed counting window per IP.
	RateLimitWindow = 120 * time.Second
	// RateLimitMaxRequests is the number of requests allowed per window.
	RateLimitMaxRequests = 100
	// RateLimitKeyPrefix is the Redis key prefix for request counters.
	RateLimitKeyPrefix = "ratelimit:"
	// BlockedIPKeyPrefix is the Redis key prefix for blocked IPs.
	BlockedIPKeyPrefix = "blocked_ip:"
	// BlockedIPDuration is how long an IP stays blocked after exceeding the limit.
	BlockedIPDuration = 15 * time.Minute
)

// RedisRateLimiter counts requests per IP in Redis so the limit holds across
// processes. It fails open when Redis is unavailable.
type RedisRateLimiter struct {
	client        *redis.Client
	resolveIP     clientip.Resolver
	window        time.Duration
	maxRequests   int
	blockDuration time.Duration
	logger        *zap.Logger
}

func NewRedisRateLimiter(client *redis.Client, resolveIP clientip.Resolver, logger *zap.Logger) *RedisRateLimiter {
	if resolveIP == nil {
		resolveIP = clientip.RealClientIP
	}
	return &RedisRateLimiter{
		client:        client,
		resolveIP:     resolveIP,
		window:        RateLimitWindow,
		maxRequests:   RateLimitMaxRequests,
		blockDuration: BlockedIPDuration,
		logger:        logger,
	}
}

// WithLimits overrides the window and request budget.
func (l *RedisRateLimiter) WithLimits(window time.Duration, maxRequests int, block time.Duration) *RedisRateLimiter {
	l.window, l.maxRequests, l.blockDuration = window, maxRequests, block
	return l
}

func (l *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := l.resolveIP(r)

		blocked, err := l.client.Exists(ctx, BlockedIPKeyPrefix+ip).Result()
		if err == nil && blocked > 0 {
			writeTooManyRequests(w, "Your IP has been temporarily blocked due to excessive requests. Please try again later.")
			return
		}

		key := RateLimitKeyPrefix + ip
		count, err := l.client.Incr(ctx, key).Result()
		if err != nil {
			l.logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			l.client.Expire(ctx, key, l.window)
		}

		if count > int64(l.maxRequests) {
			if err := l.client.Set(ctx, BlockedIPKeyPrefix+ip, "1", l.blockDuration).Err(); err != nil {
				l.logger.Warn("Failed to block IP", zap.String("ip", ip), zap.Error(err))
			} else {
				l.logger.Warn("IP blocked for exceeding rate limit", zap.String("ip", ip), zap.Int64("count", count))
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(l.blockDuration.Seconds())))
			writeTooManyRequests(w, "Rate limit exceeded. Please try again later.")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.maxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(l.maxRequests)-count, 10))
		next.ServeHTTP(w, r)
	})
}
