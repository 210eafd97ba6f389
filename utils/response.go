package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeRateLimit     = "RATE_LIMIT_EXCEEDED"
	ErrCodeQuotaExceeded = "QUOTA_EXCEEDED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

type APIResponse struct {
	Status    string      `json:"status"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, statusCode int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now().UTC()
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Int("status", statusCode).Msg("failed to encode response")
	}
}

func codeFromStatus(statusCode int) string {
	switch {
	case statusCode >= 500:
		return ErrCodeInternalError
	case statusCode == http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case statusCode == http.StatusForbidden:
		return ErrCodeForbidden
	case statusCode == http.StatusNotFound:
		return ErrCodeNotFound
	case statusCode == http.StatusConflict:
		return ErrCodeConflict
	case statusCode == http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case statusCode >= 400:
		return ErrCodeBadRequest
	default:
		return "OK"
	}
}

func RespondSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, APIResponse{
		Status:  "success",
		Message: http.StatusText(statusCode),
		Data:    data,
		Code:    codeFromStatus(statusCode),
	})
}

func RespondMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, APIResponse{
		Status:  "success",
		Message: message,
		Code:    codeFromStatus(statusCode),
	})
}

func RespondError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, APIResponse{
		Status:  "error",
		Message: message,
		Code:    codeFromStatus(statusCode),
	})
}

// RespondErrorData is for expected rejections that carry a payload, like
// quota-exceeded responses with current counters.
func RespondErrorData(w http.ResponseWriter, statusCode int, message, code string, data interface{}) {
	writeJSON(w, statusCode, APIResponse{
		Status:  "error",
		Message: message,
		Data:    data,
		Code:    code,
	})
}

func RespondInternal(w http.ResponseWriter, err error, message string) {
	log.Error().Err(err).Msg(message)
	writeJSON(w, http.StatusInternalServerError, APIResponse{
		Status:  "error",
		Message: message,
		Code:    ErrCodeInternalError,
	})
}

func RespondValidationError(w http.ResponseWriter, message string, fields []string) {
	if message == "" {
		message = "Validation failed"
	}
	if len(fields) > 0 {
		message = fmt.Sprintf("%s: %s", message, strings.Join(fields, ", "))
	}
	writeJSON(w, http.StatusBadRequest, APIResponse{
		Status:  "error",
		Message: message,
		Code:    ErrCodeValidation,
	})
}
