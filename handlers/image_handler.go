package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imageforge/models"
	"imageforge/openai"
	"imageforge/quota"
	"imageforge/repository"
	"imageforge/utils"
)

type ImageHandler struct {
	Gate     *quota.Gate
	Images   repository.ImageRepo
	Validate *validator.Validate
	Log      zerolog.Logger
}

type generateImageRequest struct {
	Prompt  string `json:"prompt" validate:"required,max=1000"`
	Size    string `json:"size" validate:"omitempty,oneof=1024x1024 1792x1024 1024x1792"`
	Quality string `json:"quality" validate:"omitempty,oneof=standard hd"`
	Style   string `json:"style" validate:"omitempty,oneof=vivid natural"`
}

type generateImageResponse struct {
	Image models.ImageView `json:"image"`
	User  quotaCounters    `json:"user"`
}

type quotaCounters struct {
	ImagesGenerated int `json:"images_generated"`
	MaxImages       int `json:"max_images"`
	RemainingImages int `json:"remaining_images"`
}

func countersFromUsage(u quota.Usage) quotaCounters {
	remaining := u.MaxImages - u.ImagesGenerated
	if remaining < 0 {
		remaining = 0
	}
	return quotaCounters{
		ImagesGenerated: u.ImagesGenerated,
		MaxImages:       u.MaxImages,
		RemainingImages: remaining,
	}
}

func (h *ImageHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req generateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Size == "" {
		req.Size = "1024x1024"
	}
	if req.Quality == "" {
		req.Quality = "standard"
	}
	if req.Style == "" {
		req.Style = "vivid"
	}

	if err := h.Validate.Struct(req); err != nil {
		utils.RespondValidationError(w, "Invalid generation request", validationFields(err))
		return
	}

	if ok, reason := openai.ValidatePrompt(req.Prompt); !ok {
		utils.RespondError(w, http.StatusBadRequest, reason)
		return
	}

	result, err := h.Gate.Generate(r.Context(), userID, quota.GenerateRequest{
		Prompt:  req.Prompt,
		Size:    req.Size,
		Quality: req.Quality,
		Style:   req.Style,
	})
	if err != nil {
		h.respondGenerationError(w, err)
		return
	}

	if !result.Admitted {
		utils.RespondErrorData(w, http.StatusForbidden,
			"Image limit reached. Upgrade your plan.",
			utils.ErrCodeQuotaExceeded,
			countersFromUsage(result.Usage))
		return
	}

	utils.RespondSuccess(w, http.StatusCreated, generateImageResponse{
		Image: result.Image.View(),
		User:  countersFromUsage(result.Usage),
	})
}

// respondGenerationError maps provider failures onto user-facing
// rejections. Nothing here is retried; quota was not committed.
func (h *ImageHandler) respondGenerationError(w http.ResponseWriter, err error) {
	var provErr *openai.Error
	if errors.As(err, &provErr) {
		switch provErr.Reason {
		case openai.ReasonRateLimit:
			utils.RespondError(w, http.StatusTooManyRequests, provErr.UserMessage())
		case openai.ReasonInsufficientQuota:
			utils.RespondError(w, http.StatusServiceUnavailable, provErr.UserMessage())
		default:
			utils.RespondError(w, http.StatusBadRequest, provErr.UserMessage())
		}
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "User not found")
		return
	}
	utils.RespondInternal(w, err, "Unable to generate image")
}

func (h *ImageHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	offset := (page - 1) * limit

	images, err := h.Images.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		utils.RespondInternal(w, err, "Unable to fetch image history")
		return
	}
	total, err := h.Images.CountByUser(r.Context(), userID)
	if err != nil {
		utils.RespondInternal(w, err, "Unable to fetch image history")
		return
	}

	views := make([]models.ImageView, 0, len(images))
	for i := range images {
		views = append(views, images[i].View())
	}

	totalPages := (total + limit - 1) / limit
	utils.RespondSuccess(w, http.StatusOK, map[string]interface{}{
		"images": views,
		"pagination": map[string]interface{}{
			"current_page":  page,
			"total_pages":   totalPages,
			"total_count":   total,
			"limit":         limit,
			"has_next_page": page < totalPages,
			"has_prev_page": page > 1,
		},
	})
}

func (h *ImageHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	imageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid image id")
		return
	}

	if err := h.Images.SoftDelete(r.Context(), imageID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Image not found")
			return
		}
		utils.RespondInternal(w, err, "Unable to delete image")
		return
	}

	utils.RespondMessage(w, http.StatusOK, "Image deleted")
}

func validationFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fields
}
