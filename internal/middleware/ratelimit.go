package middleware

import (
	"net/http"
	"time"

	"github.com/glazeapp/glaze/internal/redis"
)

// RateLimit throttles expensive routes per client using the redis sliding
// window limiter. A nil redis client disables limiting (tests, local runs).
type RateLimit struct {
	redis *redis.Client
	limit int64
}

func NewRateLimit(redisClient *redis.Client, limit int64) *RateLimit {
	return &RateLimit{
		redis: redisClient,
		limit: limit,
	}
}

func (rl *RateLimit) PerMinute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil || rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		logger := GetLogger(r.Context())

		key := "ip:" + r.RemoteAddr
		result, err := rl.redis.CheckRateLimit(r.Context(), key, rl.limit, time.Minute)
		if err != nil {
			// Fail open: a redis hiccup must not block paying users.
			logger.Warn().Err(err).Msg("Rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if !result.Allowed {
			logger.Warn().Str("key", key).Msg("Rate limit exceeded")
			http.Error(w, "Too many requests, slow down", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
