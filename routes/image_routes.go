package routes

import (
	"net/http"

	"github.com/redis/go-redis/v9"

	"imageforge/handlers"
	middleware "imageforge/middlewares"
)

func RegisterImageRoutes(mux *http.ServeMux, ih *handlers.ImageHandler, authMw *middleware.Auth, redisClient *redis.Client) {
	generateLimiter := middleware.GenerateRateLimiter(redisClient)

	mux.Handle("POST /api/images/generate",
		authMw.Middleware(generateLimiter(http.HandlerFunc(ih.GenerateImage))))
	mux.Handle("GET /api/images/history", authMw.Middleware(http.HandlerFunc(ih.History)))
	mux.Handle("DELETE /api/images/{id}", authMw.Middleware(http.HandlerFunc(ih.DeleteImage)))
}
