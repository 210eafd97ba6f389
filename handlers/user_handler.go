package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	middleware "imageforge/middlewares"
	"imageforge/models"
	"imageforge/repository"
	"imageforge/utils"
)

type UserHandler struct {
	Users              repository.UserRepo
	RedisClient        *redis.Client
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	Log                zerolog.Logger
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var form models.RegisterForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)

	var invalid []string
	if len(form.Name) < 2 || len(form.Name) > 50 {
		invalid = append(invalid, "name")
	}
	if !strings.Contains(form.Email, "@") {
		invalid = append(invalid, "email")
	}
	if len(form.Password) < 6 {
		invalid = append(invalid, "password")
	}
	if len(invalid) > 0 {
		utils.RespondValidationError(w, "Invalid fields", invalid)
		return
	}

	passwordHash, err := utils.HashPassword(form.Password)
	if err != nil {
		utils.RespondInternal(w, err, "Could not process password")
		return
	}

	user, err := h.Users.Create(r.Context(), form.Name, form.Email, passwordHash)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			utils.RespondError(w, http.StatusConflict, "Email already in use")
			return
		}
		utils.RespondInternal(w, err, "Unable to create account")
		return
	}

	if err := h.issueSession(r.Context(), w, user.UUID.String()); err != nil {
		utils.RespondInternal(w, err, "Could not create session")
		return
	}

	h.Log.Info().Str("user_id", user.UUID.String()).Msg("user registered")
	utils.RespondSuccess(w, http.StatusCreated, user.Profile())
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var form models.LoginForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid login payload")
		return
	}
	if form.Email == "" || form.Password == "" {
		utils.RespondValidationError(w, "email and password are required", []string{"email", "password"})
		return
	}

	user, err := h.Users.GetByEmail(r.Context(), form.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		utils.RespondInternal(w, err, "Unable to process login")
		return
	}

	if !utils.CheckPasswordHash(form.Password, user.PasswordHash) {
		utils.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if err := h.issueSession(r.Context(), w, user.UUID.String()); err != nil {
		utils.RespondInternal(w, err, "Could not create session")
		return
	}

	utils.RespondSuccess(w, http.StatusOK, user.Profile())
}

func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// Best effort: revoke the server-side session when the cookie still
	// parses, then clear cookies either way.
	if cookie, err := r.Cookie(utils.AccessTokenCookie); err == nil {
		if claims, err := utils.ParseToken(cookie.Value, h.AccessTokenSecret); err == nil {
			redisCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := h.RedisClient.Del(redisCtx, middleware.RefreshTokenKey(claims.UserID)).Err(); err != nil {
				h.Log.Warn().Err(err).Msg("failed to revoke session")
			}
		}
	}

	utils.ClearAuthCookies(w)
	utils.RespondMessage(w, http.StatusOK, "Logged out")
}

func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshCookie, err := r.Cookie(utils.RefreshTokenCookie)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized: authentication token required")
		return
	}

	claims, err := utils.ParseToken(refreshCookie.Value, h.RefreshTokenSecret)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized: invalid token")
		return
	}

	redisCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stored, err := h.RedisClient.Get(redisCtx, middleware.RefreshTokenKey(claims.UserID)).Result()
	if err != nil || stored != refreshCookie.Value {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized: session expired")
		return
	}

	// Rotate both tokens on refresh.
	if err := h.issueSession(r.Context(), w, claims.UserID); err != nil {
		utils.RespondInternal(w, err, "Could not refresh session")
		return
	}

	utils.RespondMessage(w, http.StatusOK, "Token refreshed")
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.Users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		utils.RespondInternal(w, err, "Unable to fetch user")
		return
	}

	utils.RespondSuccess(w, http.StatusOK, user.Profile())
}

func (h *UserHandler) UpdateUserInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var form struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)

	var invalid []string
	if len(form.Name) < 2 || len(form.Name) > 50 {
		invalid = append(invalid, "name")
	}
	if !strings.Contains(form.Email, "@") {
		invalid = append(invalid, "email")
	}
	if len(invalid) > 0 {
		utils.RespondValidationError(w, "Invalid fields", invalid)
		return
	}

	if err := h.Users.UpdateInfo(r.Context(), userID, form.Name, form.Email); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			utils.RespondError(w, http.StatusConflict, "Email already in use")
		case errors.Is(err, repository.ErrNotFound):
			utils.RespondError(w, http.StatusNotFound, "User not found")
		default:
			utils.RespondInternal(w, err, "Unable to update user info")
		}
		return
	}

	utils.RespondMessage(w, http.StatusOK, "User info updated")
}

func (h *UserHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var form struct {
		Password           string `json:"password"`
		NewPassword        string `json:"new_password"`
		ConfirmNewPassword string `json:"confirm_new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if form.NewPassword != form.ConfirmNewPassword {
		utils.RespondError(w, http.StatusBadRequest, "New password and confirmation do not match")
		return
	}
	if len(form.NewPassword) < 6 {
		utils.RespondValidationError(w, "Invalid fields", []string{"new_password"})
		return
	}

	user, err := h.Users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		utils.RespondInternal(w, err, "Unable to fetch user")
		return
	}

	if !utils.CheckPasswordHash(form.Password, user.PasswordHash) {
		utils.RespondError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	passwordHash, err := utils.HashPassword(form.NewPassword)
	if err != nil {
		utils.RespondInternal(w, err, "Could not process password")
		return
	}

	if err := h.Users.UpdatePassword(r.Context(), userID, passwordHash); err != nil {
		utils.RespondInternal(w, err, "Unable to update password")
		return
	}

	utils.RespondMessage(w, http.StatusOK, "Password updated")
}

func (h *UserHandler) issueSession(ctx context.Context, w http.ResponseWriter, userID string) error {
	accessToken, err := utils.CreateToken(userID, utils.AccessTokenTTL, h.AccessTokenSecret)
	if err != nil {
		return err
	}
	refreshToken, err := utils.CreateToken(userID, utils.RefreshTokenTTL, h.RefreshTokenSecret)
	if err != nil {
		return err
	}

	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.RedisClient.Set(redisCtx, middleware.RefreshTokenKey(userID), refreshToken, utils.RefreshTokenTTL).Err(); err != nil {
		return err
	}

	utils.SetAuthCookies(w, accessToken, refreshToken)
	return nil
}

// authedUserID pulls the authenticated user out of the request context.
func authedUserID(r *http.Request) (uuid.UUID, bool) {
	raw, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
