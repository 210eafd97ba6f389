package routes

import (
	"net/http"

	"imageforge/handlers"
	middleware "imageforge/middlewares"
)

func RegisterUserRoutes(mux *http.ServeMux, uh *handlers.UserHandler, authMw *middleware.Auth) {
	mux.HandleFunc("POST /api/auth/register", uh.Register)
	mux.HandleFunc("POST /api/auth/login", uh.Login)
	mux.HandleFunc("GET /api/auth/logout", uh.Logout)
	mux.HandleFunc("GET /api/auth/refresh-token", uh.RefreshToken)

	mux.Handle("GET /api/auth/me", authMw.Middleware(http.HandlerFunc(uh.Me)))
	mux.Handle("PUT /api/users/update-user-info", authMw.Middleware(http.HandlerFunc(uh.UpdateUserInfo)))
	mux.Handle("PUT /api/users/update-password", authMw.Middleware(http.HandlerFunc(uh.UpdatePassword)))
}
