package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"imageforge/utils"
)

const (
	globalMaxRequests = 100
	globalWindow      = 1 * time.Minute

	// Per-user cap on generation requests; a backstop against prompt
	// spam, independent of the quota ledger.
	generateMaxRequests = 10
	generateWindow      = 1 * time.Minute
)

// GlobalRateLimiter applies a per-IP request budget across the whole
// API.
func GlobalRateLimiter(redisClient *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("rate_limit:site:%s", clientIP(r))

			allowed, err := checkRateLimit(r.Context(), redisClient, key, globalMaxRequests, globalWindow)
			if err != nil {
				utils.RespondError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			if !allowed {
				utils.RespondError(w, http.StatusTooManyRequests, "Too many requests, wait a minute")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GenerateRateLimiter throttles the image-generation endpoint per
// authenticated user. Runs after auth.
func GenerateRateLimiter(redisClient *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			key := fmt.Sprintf("rate_limit:generate:%s", userID)

			allowed, err := checkRateLimit(r.Context(), redisClient, key, generateMaxRequests, generateWindow)
			if err != nil {
				utils.RespondError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			if !allowed {
				utils.RespondError(w, http.StatusTooManyRequests, "Too many generation requests, slow down")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func checkRateLimit(ctx context.Context, redisClient *redis.Client, key string, max int64, window time.Duration) (bool, error) {
	current, err := redisClient.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}

	if current >= max {
		return false, nil
	}

	count, err := redisClient.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}

	if count == 1 {
		redisClient.Expire(ctx, key, window)
	}

	return count <= max, nil
}
