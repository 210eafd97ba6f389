package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"imageforge/utils"
)

type contextKey string

const UserIDContextKey contextKey = "userID"

// RefreshTokenKey is the Redis key holding a user's current refresh
// token. Sessions are revoked by deleting it.
func RefreshTokenKey(userID string) string {
	return "refresh:" + userID
}

type Auth struct {
	RedisClient       *redis.Client
	AccessTokenSecret []byte
	Log               zerolog.Logger
}

// Middleware authenticates the access-token cookie and checks that the
// refresh-token cookie still matches the server-side session in Redis,
// so logout and token rotation take effect immediately.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(utils.AccessTokenCookie)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized: authentication token required")
			return
		}

		refreshCookie, err := r.Cookie(utils.RefreshTokenCookie)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized: authentication token required")
			return
		}

		claims, err := utils.ParseToken(cookie.Value, a.AccessTokenSecret)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized: invalid or expired token")
			return
		}

		redisCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		storedRefresh, err := a.RedisClient.Get(redisCtx, RefreshTokenKey(claims.UserID)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized: session expired")
				return
			}
			a.Log.Error().Err(err).Msg("failed to read session from redis")
			utils.RespondError(w, http.StatusInternalServerError, "Unable to verify session")
			return
		}

		if storedRefresh != refreshCookie.Value {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the authenticated user ID set by Middleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDContextKey).(string)
	return id, ok
}
